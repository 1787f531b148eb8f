package discovery

import (
	"context"
	"fmt"

	"github.com/phenodcc/crawler/internal/database"
	crawlererrors "github.com/phenodcc/crawler/internal/errors"
)

// Resolver builds a Driver for a FileSource, dialing it. Unsupported
// protocols are reported as a non-retryable error so the caller can
// record it and skip the source without burning a retry budget on it
// (§4.6, §7).
type Resolver func(ctx context.Context, fs database.FileSource, protocolName string) (Driver, error)

// DefaultResolver dispatches by protocol name. http is seeded but has
// no discovery driver (§9's open question resolution): it always
// returns ErrUnsupportedProtocol, recorded non-fatally by the caller.
func DefaultResolver(ctx context.Context, fs database.FileSource, protocolName string) (Driver, error) {
	switch protocolName {
	case database.ProtocolFTP:
		return newFTPDriver(ctx, fs.Hostname, fs.Username, fs.Password)
	case database.ProtocolSFTP:
		return newSFTPDriver(ctx, fs.Hostname, fs.Username, fs.Password, fs.IdentityFile)
	default:
		return nil, crawlererrors.NewNonRetryableError(
			fmt.Sprintf("no discovery driver for protocol %s", protocolName), crawlererrors.ErrUnsupportedProtocol)
	}
}
