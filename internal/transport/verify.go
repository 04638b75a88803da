package transport

import (
	"github.com/foxzi/blast/internal/email"
)

// VerifyAcceptance checks that the provider really accepted rcpt.
//
// A result with neither accepted nor rejected addresses is taken as success,
// since some providers omit per-address detail. Otherwise rcpt must be listed
// as accepted and must not be listed as rejected.
func VerifyAcceptance(res *Result, rcpt string) error {
	if res == nil {
		return nil
	}

	target := email.Normalize(rcpt)
	for _, addr := range res.Rejected {
		if email.Normalize(addr) == target {
			return temporaryf("recipient %s was rejected by the server: %s", rcpt, res.Response)
		}
	}

	if len(res.Accepted) == 0 && len(res.Rejected) == 0 {
		return nil
	}

	for _, addr := range res.Accepted {
		if email.Normalize(addr) == target {
			return nil
		}
	}
	return temporaryf("recipient %s was not accepted by the server: %s", rcpt, res.Response)
}
