package network

import (
	"context"
	"net"
	"time"

	"github.com/novifinancial/fastpay"
	"github.com/novifinancial/fastpay/message"
)

// Client talks to one authority over the network, routing every request to
// the shard owning the account it concerns. It implements
// custom.IAuthorityClient. Requests are independent datagram-style exchanges,
// which is what makes retry over UDP safe.
type Client struct {
	authority fastpay.AuthorityConfig
	timeout   time.Duration
}

func NewClient(authority fastpay.AuthorityConfig, timeout time.Duration) *Client {
	return &Client{authority: authority, timeout: timeout}
}

func (c *Client) HandleTransferOrder(ctx context.Context, order *message.TransferOrder) (*message.AccountInfoResponse, error) {
	return c.query(ctx, order.Transfer.Sender, order)
}

func (c *Client) HandleConfirmationOrder(ctx context.Context, cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, error) {
	return c.query(ctx, cert.Value.Transfer.Sender, cert)
}

func (c *Client) HandleAccountInfoRequest(ctx context.Context, req *message.AccountInfoRequest) (*message.AccountInfoResponse, error) {
	return c.query(ctx, req.AccountId, req)
}

func (c *Client) query(ctx context.Context, accountId message.AccountId, msg message.Message) (*message.AccountInfoResponse, error) {
	payload, err := message.Serialize(msg)
	if err != nil {
		return nil, err
	}
	shard := fastpay.ShardFor(accountId, c.authority.NumShards)
	reply, err := c.roundTrip(ctx, c.authority.ShardAddress(shard), payload)
	if err != nil {
		return nil, message.NewErrorf(message.CodeClientIOError, "%v", err)
	}
	decoded, err := message.Deserialize(reply)
	if err != nil {
		return nil, err
	}
	switch m := decoded.(type) {
	case *message.AccountInfoResponse:
		return m, nil
	case *message.Error:
		return nil, m
	default:
		return nil, message.NewError(message.CodeUnexpectedMessage)
	}
}

func (c *Client) roundTrip(ctx context.Context, address string, payload []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	protocol := c.authority.Protocol
	if protocol == "" {
		protocol = ProtocolTCP
	}
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, protocol, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if protocol == ProtocolUDP {
		if _, err := conn.Write(payload); err != nil {
			return nil, err
		}
		buf := make([]byte, MaxDatagramSize)
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	return ReadFrame(conn)
}

// MakeAuthorityClients builds one network client per committee member.
func MakeAuthorityClients(committee *fastpay.CommitteeConfig, timeout time.Duration) map[message.PublicKeyBytes]*Client {
	clients := make(map[message.PublicKeyBytes]*Client, len(committee.Authorities))
	for _, authority := range committee.Authorities {
		clients[authority.Name] = NewClient(authority, timeout)
	}
	return clients
}
