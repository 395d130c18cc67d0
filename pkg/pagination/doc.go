// Package pagination walks the paginated LingQ cards resource of one language
// under an opaque, variable rate limit.
//
// The walk is an explicit state machine:
//
//	fetching --non-empty page, next-->   fetching (after the inter-page delay)
//	fetching --non-empty page, no next--> done
//	fetching --empty page-->             done
//	fetching --429-->                    throttled
//	fetching --any other error-->        aborted
//	throttled --budget left-->           fetching (same page, after backoff)
//	throttled --budget exhausted-->      aborted
//
// done and aborted are terminal. Both return the records accepted so far;
// Result.Complete tells them apart. Errors never escape Fetch: an aborted
// partition carries its cause in Result.Err.
//
// Example usage:
//
//	p := pagination.New(lingqClient, pagination.DefaultPolicy())
//	result := p.Fetch(ctx, "de")
//	if !result.Complete {
//		// retry later with only this language
//	}
//
// Waiting is delegated to a Sleeper so the policy is testable without
// real delays; see WithSleeper.
package pagination
