package fastpay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/novifinancial/fastpay/message"
)

// AuthorityConfig is the public description of one authority, shared with
// clients and the rest of the committee.
type AuthorityConfig struct {
	Name      message.PublicKeyBytes `json:"name"`
	Host      string                 `json:"host"`
	BasePort  uint32                 `json:"base_port"`
	NumShards uint32                 `json:"num_shards"`
	Protocol  string                 `json:"network_protocol"`
}

// ShardAddress is where one shard of this authority listens.
func (c *AuthorityConfig) ShardAddress(shard message.ShardID) string {
	return fmt.Sprintf("%s:%d", c.Host, c.BasePort+uint32(shard))
}

// AuthorityServerConfig is the private server-side configuration: the public
// description plus the authority's key pair.
type AuthorityServerConfig struct {
	Authority AuthorityConfig  `json:"authority"`
	Key       *message.KeyPair `json:"key"`
}

func ReadAuthorityServerConfig(path string) (*AuthorityServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading server config")
	}
	cfg := &AuthorityServerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing server config")
	}
	return cfg, nil
}

func (c *AuthorityServerConfig) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o600)
}

// CommitteeConfig lists every authority of the committee, one JSON object per
// line.
type CommitteeConfig struct {
	Authorities []AuthorityConfig
}

func ReadCommitteeConfig(path string) (*CommitteeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading committee config")
	}
	cfg := &CommitteeConfig{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var authority AuthorityConfig
		if err := json.Unmarshal([]byte(line), &authority); err != nil {
			return nil, errors.Wrap(err, "parsing committee config")
		}
		cfg.Authorities = append(cfg.Authorities, authority)
	}
	return cfg, scanner.Err()
}

func (c *CommitteeConfig) Write(path string) error {
	buf := &bytes.Buffer{}
	for i := range c.Authorities {
		data, err := json.Marshal(&c.Authorities[i])
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// VotingRights gives every listed authority one vote.
func (c *CommitteeConfig) VotingRights() map[message.PublicKeyBytes]int64 {
	rights := make(map[message.PublicKeyBytes]int64, len(c.Authorities))
	for i := range c.Authorities {
		rights[c.Authorities[i].Name] = 1
	}
	return rights
}

// Committee builds the immutable committee snapshot.
func (c *CommitteeConfig) Committee() *Committee {
	return NewCommittee(c.VotingRights())
}

// UserAccount is the wallet record of one account the user owns.
type UserAccount struct {
	AccountId            message.AccountId                `json:"account_id"`
	Key                  *message.KeyPair                 `json:"key"`
	NextSequenceNumber   message.SequenceNumber           `json:"next_sequence_number"`
	Balance              message.Balance                  `json:"balance"`
	SentCertificates     []message.CertifiedTransferOrder `json:"sent_certificates"`
	ReceivedCertificates []message.CertifiedTransferOrder `json:"received_certificates"`
}

func NewUserAccount(accountId message.AccountId, balance message.Balance) *UserAccount {
	return &UserAccount{
		AccountId: accountId.Copy(),
		Key:       message.GenerateKeyPair(),
		Balance:   balance,
	}
}

// AccountsConfig is the local wallet: every account the user owns, one JSON
// object per line.
type AccountsConfig struct {
	accounts map[string]*UserAccount
	order    []message.AccountId
}

func NewAccountsConfig() *AccountsConfig {
	return &AccountsConfig{accounts: make(map[string]*UserAccount)}
}

func (c *AccountsConfig) Get(accountId message.AccountId) (*UserAccount, bool) {
	account, ok := c.accounts[accountId.Key()]
	return account, ok
}

func (c *AccountsConfig) Insert(account *UserAccount) {
	key := account.AccountId.Key()
	if _, ok := c.accounts[key]; !ok {
		c.order = append(c.order, account.AccountId.Copy())
	}
	c.accounts[key] = account
}

func (c *AccountsConfig) NumAccounts() int {
	return len(c.accounts)
}

// Accounts returns the wallet entries in insertion order.
func (c *AccountsConfig) Accounts() []*UserAccount {
	out := make([]*UserAccount, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.accounts[id.Key()])
	}
	return out
}

// UpdateFromState copies a client's protocol state back into the wallet.
func (c *AccountsConfig) UpdateFromState(state *AccountClientState) {
	account, ok := c.Get(state.AccountId())
	if !ok {
		return
	}
	account.NextSequenceNumber = state.NextSequenceNumber()
	account.Balance = state.Balance()
	account.SentCertificates = append([]message.CertifiedTransferOrder(nil), state.SentCertificates()...)
	account.ReceivedCertificates = append([]message.CertifiedTransferOrder(nil), state.ReceivedCertificates()...)
}

// UpdateForReceivedTransfer credits a wallet account for a certificate
// received out of band, once.
func (c *AccountsConfig) UpdateForReceivedTransfer(cert message.CertifiedTransferOrder) {
	recipient, ok := cert.Value.Transfer.Recipient.FastPayId()
	if !ok {
		return
	}
	account, ok := c.Get(recipient)
	if !ok {
		return
	}
	key := cert.Key()
	for i := range account.ReceivedCertificates {
		if account.ReceivedCertificates[i].Key() == key {
			return
		}
	}
	account.Balance = account.Balance.SaturatingAdd(cert.Value.Transfer.Amount.Balance())
	account.ReceivedCertificates = append(account.ReceivedCertificates, cert)
}

func ReadOrCreateAccountsConfig(path string) (*AccountsConfig, error) {
	cfg := NewAccountsConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading wallet")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 16*1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		account := &UserAccount{}
		if err := json.Unmarshal([]byte(line), account); err != nil {
			return nil, errors.Wrap(err, "parsing wallet")
		}
		cfg.Insert(account)
	}
	return cfg, scanner.Err()
}

func (c *AccountsConfig) Write(path string) error {
	buf := &bytes.Buffer{}
	for _, account := range c.Accounts() {
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o600)
}

// InitialStateConfig describes the accounts funded at genesis, one
// `id:owner:balance` line per account.
type InitialAccount struct {
	AccountId message.AccountId
	Owner     message.PublicKeyBytes
	Balance   message.Balance
}

type InitialStateConfig struct {
	Accounts []InitialAccount
}

func ReadInitialStateConfig(path string) (*InitialStateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading initial accounts")
	}
	cfg := &InitialStateConfig{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		elements := strings.Split(line, ":")
		if len(elements) != 3 {
			return nil, errors.Errorf("expecting three columns separated with ':' in %q", line)
		}
		id, err := message.ParseAccountId(elements[0])
		if err != nil {
			return nil, err
		}
		owner, err := message.ParsePublicKeyBytes(elements[1])
		if err != nil {
			return nil, err
		}
		balance, err := message.ParseBalance(elements[2])
		if err != nil {
			return nil, err
		}
		cfg.Accounts = append(cfg.Accounts, InitialAccount{AccountId: id, Owner: owner, Balance: balance})
	}
	return cfg, scanner.Err()
}

func (c *InitialStateConfig) Write(path string) error {
	buf := &bytes.Buffer{}
	for _, account := range c.Accounts {
		fmt.Fprintf(buf, "%s:%s:%s\n", account.AccountId, account.Owner, account.Balance)
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}
