/*
Package cfddns keeps a Cloudflare DNS A record pointed at the public IPv4
address of the host it runs on.

Usage starts with [New], which builds a [Syncer] from a [Config] and
functional options. [Syncer.Run] loops forever: resolve the public address,
compare it to the remote record, rewrite the record when they differ, sleep,
repeat. [Syncer.RunOnce] performs a single pass for one-shot use and tests.

	syncer, err := cfddns.New(cfddns.Config{
		ZoneID:     os.Getenv("CF_ZONE_ID"),
		RecordName: "home.example.com",
	},
		cfddns.UsingCloudflare(os.Getenv("CF_API_TOKEN")),
	)
	if err != nil {
		log.Fatal(err)
	}
	err = syncer.Run(ctx)

Failures carry a [Kind]. Credential and missing-record failures stop Run;
everything else is retried on the next cycle with a stretched sleep.
*/
package cfddns
