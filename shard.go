package fastpay

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/novifinancial/fastpay/custom"
	"github.com/novifinancial/fastpay/message"
)

const (
	crossShardQueueSize     = 1000
	crossShardRetryDelay    = 50 * time.Millisecond
	crossShardMaxRetryDelay = time.Second
)

/*
	AuthorityShards runs every shard of one authority in a single process and
	carries cross-shard credits between them over an in-memory at-least-once
	channel: a delivery that fails is retried with backoff until the owning
	shard accepts it.

	The outbox is memory-only: credits still queued when the process dies are
	lost. A production deployment would persist the outbox and replay it on
	restart; this is the documented open issue of the prototype.
*/
type AuthorityShards struct {
	shards []*AuthorityState

	queue   chan *message.CrossShardUpdate
	done    chan struct{}
	started sync.Once
	stopped sync.Once
	wg      sync.WaitGroup

	logger *log.Logger
}

func NewAuthorityShards(committee *Committee, secret custom.ISigner, numShards uint32) *AuthorityShards {
	shards := make([]*AuthorityState, numShards)
	for i := range shards {
		shards[i] = NewAuthorityShard(committee, secret, message.ShardID(i), numShards)
	}
	return &AuthorityShards{
		shards: shards,
		queue:  make(chan *message.CrossShardUpdate, crossShardQueueSize),
		done:   make(chan struct{}),
		logger: log.StandardLogger(),
	}
}

func (a *AuthorityShards) SetLogger(lg *log.Logger) {
	a.logger = lg
	for _, shard := range a.shards {
		shard.SetLogger(lg)
	}
}

func (a *AuthorityShards) NumShards() uint32 {
	return uint32(len(a.shards))
}

func (a *AuthorityShards) Shard(id message.ShardID) *AuthorityState {
	return a.shards[id]
}

func (a *AuthorityShards) ShardFor(id message.AccountId) *AuthorityState {
	return a.shards[ShardFor(id, uint32(len(a.shards)))]
}

// Start launches the cross-shard forwarder.
func (a *AuthorityShards) Start() {
	a.started.Do(func() {
		a.wg.Add(1)
		go a.forwardCrossShardUpdates()
	})
}

// Stop drains nothing: queued updates are dropped, as a crash would.
func (a *AuthorityShards) Stop() {
	a.stopped.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

// HandleTransferOrder routes the order to the shard owning the sender.
func (a *AuthorityShards) HandleTransferOrder(order *message.TransferOrder) (*message.AccountInfoResponse, error) {
	return a.ShardFor(order.Transfer.Sender).HandleTransferOrder(order)
}

// HandleConfirmationOrder routes the certificate to the sender's shard and
// queues any resulting cross-shard credit.
func (a *AuthorityShards) HandleConfirmationOrder(cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, error) {
	info, update, err := a.ShardFor(cert.Value.Transfer.Sender).HandleConfirmationOrder(cert)
	if err != nil {
		return nil, err
	}
	if update != nil {
		a.enqueue(update)
	}
	return info, nil
}

// HandleAccountInfoRequest routes the request to the shard owning the
// account.
func (a *AuthorityShards) HandleAccountInfoRequest(req *message.AccountInfoRequest) (*message.AccountInfoResponse, error) {
	return a.ShardFor(req.AccountId).HandleAccountInfoRequest(req)
}

func (a *AuthorityShards) enqueue(update *message.CrossShardUpdate) {
	select {
	case a.queue <- update:
	case <-a.done:
	}
}

func (a *AuthorityShards) forwardCrossShardUpdates() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case update := <-a.queue:
			a.deliver(update)
		}
	}
}

// deliver retries until the owning shard accepts the update. Replays are
// harmless: receivers de-duplicate by certificate identity.
func (a *AuthorityShards) deliver(update *message.CrossShardUpdate) {
	shard := a.shards[update.ShardId]
	delay := crossShardRetryDelay
	for attempt := 0; ; attempt++ {
		err := shard.HandleCrossShardUpdate(update)
		if err == nil {
			return
		}
		a.logger.WithField("shard", update.ShardId).
			WithField("attempt", attempt).
			WithField("err", err).
			Warn("cross-shard delivery failed, retrying")
		select {
		case <-a.done:
			return
		case <-time.After(delay):
		}
		if delay < crossShardMaxRetryDelay {
			delay *= 2
		}
	}
}
