package payment

import "context"

// Gateway is the opaque payment capability consumed at checkout. Protocol
// details live behind the adapter; confirmation arrives asynchronously via
// the gateway callback flow.
type Gateway interface {
	Initiate(ctx context.Context, amount int64, method string) (transactionID string, err error)
}
