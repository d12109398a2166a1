package ledger

import (
	natsutil "github.com/kthomas/go-natsutil"
)

const natsCreditMintedSubject = "carbon.credit.minted"
const natsCreditRetiredSubject = "carbon.credit.retired"
const natsMintOrphanedSubject = "carbon.credit.mint.orphaned"
const natsPrivateTransferSubject = "carbon.transfer.private"

// Publisher broadcasts ledger events for downstream indexing; events are the
// only externally observable side effects besides the state itself
type Publisher interface {
	Publish(subject string, payload []byte) error
}

type natsPublisher struct{}

// NewNATSPublisher returns a publisher dispatching events to the configured
// NATS JetStream instance
func NewNATSPublisher() Publisher {
	return &natsPublisher{}
}

func (p *natsPublisher) Publish(subject string, payload []byte) error {
	_, err := natsutil.NatsJetstreamPublish(subject, payload)
	return err
}
