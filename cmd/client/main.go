// Command client is the FastPay wallet: it creates accounts, queries
// balances, runs transfers and drives throughput benchmarks.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/novifinancial/fastpay"
	"github.com/novifinancial/fastpay/custom"
	"github.com/novifinancial/fastpay/message"
	"github.com/novifinancial/fastpay/network"
)

var (
	committeePath string
	walletPath    string
	timeout       time.Duration

	initialFunding  string
	initialStateOut string

	fromId string
	toId   string

	benchmarkTransfers int
)

func main() {
	root := &cobra.Command{
		Use:   "client",
		Short: "A FastPay wallet driving transfers against the committee",
	}
	root.PersistentFlags().StringVar(&committeePath, "committee", "",
		"Path to the file containing the public description of all authorities in this FastPay committee")
	root.PersistentFlags().StringVar(&walletPath, "accounts", "",
		"Path to the wallet file holding the user accounts")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 4*time.Second, "Timeout of a single authority request")
	root.MarkPersistentFlagRequired("committee")
	root.MarkPersistentFlagRequired("accounts")

	create := &cobra.Command{
		Use:   "create_initial_accounts [number]",
		Short: "Create new accounts in the wallet and write the genesis description for servers",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreateInitialAccounts,
	}
	create.Flags().StringVar(&initialFunding, "initial-funding", "0", "Balance of every created account")
	create.Flags().StringVar(&initialStateOut, "initial-accounts", "", "Where to write the genesis description")
	create.MarkFlagRequired("initial-accounts")

	query := &cobra.Command{
		Use:   "query_balance [account-id]",
		Short: "Query the strong-majority balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueryBalance,
	}

	transfer := &cobra.Command{
		Use:   "transfer [amount]",
		Short: "Transfer funds between FastPay accounts",
		Args:  cobra.ExactArgs(1),
		RunE:  runTransfer,
	}
	transfer.Flags().StringVar(&fromId, "from", "", "Sending account id")
	transfer.Flags().StringVar(&toId, "to", "", "Receiving account id")
	transfer.MarkFlagRequired("from")
	transfer.MarkFlagRequired("to")

	open := &cobra.Command{
		Use:   "open_account",
		Short: "Open a derived account with a fresh key pair",
		RunE:  runOpenAccount,
	}
	open.Flags().StringVar(&fromId, "from", "", "Parent account id")
	open.MarkFlagRequired("from")

	benchmark := &cobra.Command{
		Use:   "benchmark",
		Short: "Pipeline transfers across every wallet account and measure throughput",
		RunE:  runBenchmark,
	}
	benchmark.Flags().IntVar(&benchmarkTransfers, "num-transfers", 100, "Transfers per wallet account")

	root.AddCommand(create, query, transfer, open, benchmark)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	committee *fastpay.CommitteeConfig
	wallet    *fastpay.AccountsConfig
	clients   map[message.PublicKeyBytes]custom.IAuthorityClient
}

func loadEnv() (*env, error) {
	committee, err := fastpay.ReadCommitteeConfig(committeePath)
	if err != nil {
		return nil, err
	}
	wallet, err := fastpay.ReadOrCreateAccountsConfig(walletPath)
	if err != nil {
		return nil, err
	}
	clients := make(map[message.PublicKeyBytes]custom.IAuthorityClient)
	for name, client := range network.MakeAuthorityClients(committee, timeout) {
		clients[name] = client
	}
	return &env{committee: committee, wallet: wallet, clients: clients}, nil
}

func (e *env) clientState(idText string) (*fastpay.AccountClientState, error) {
	id, err := message.ParseAccountId(idText)
	if err != nil {
		return nil, err
	}
	account, ok := e.wallet.Get(id)
	if !ok {
		return nil, fmt.Errorf("account %s is not in the wallet", id)
	}
	return e.accountState(account), nil
}

func (e *env) accountState(account *fastpay.UserAccount) *fastpay.AccountClientState {
	return fastpay.NewAccountClientState(
		account.AccountId,
		account.Key,
		e.committee.Committee(),
		e.clients,
		account.NextSequenceNumber,
		account.Balance,
		account.SentCertificates,
		account.ReceivedCertificates,
	)
}

func (e *env) save(states ...*fastpay.AccountClientState) error {
	for _, state := range states {
		e.wallet.UpdateFromState(state)
	}
	return e.wallet.Write(walletPath)
}

func runCreateInitialAccounts(cmd *cobra.Command, args []string) error {
	var count int
	if _, err := fmt.Sscanf(args[0], "%d", &count); err != nil || count <= 0 {
		return fmt.Errorf("invalid account count %q", args[0])
	}
	funding, err := message.ParseBalance(initialFunding)
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	genesis := &fastpay.InitialStateConfig{}
	next := uint64(e.wallet.NumAccounts())
	for i := 0; i < count; i++ {
		id := message.NewAccountId(message.SequenceNumber(next + uint64(i) + 1))
		account := fastpay.NewUserAccount(id, funding)
		e.wallet.Insert(account)
		genesis.Accounts = append(genesis.Accounts, fastpay.InitialAccount{
			AccountId: id,
			Owner:     account.Key.GetPubKey(),
			Balance:   funding,
		})
		fmt.Println(id)
	}
	if err := genesis.Write(initialStateOut); err != nil {
		return err
	}
	return e.wallet.Write(walletPath)
}

func runQueryBalance(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	state, err := e.clientState(args[0])
	if err != nil {
		return err
	}
	balance, err := state.QueryStrongMajorityBalance(context.Background())
	if err != nil {
		return fmt.Errorf("insufficient honest responses: %w", err)
	}
	fmt.Println(balance)
	return nil
}

func runTransfer(cmd *cobra.Command, args []string) error {
	var amount uint64
	if _, err := fmt.Sscanf(args[0], "%d", &amount); err != nil || amount == 0 {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	recipient, err := message.ParseAccountId(toId)
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	state, err := e.clientState(fromId)
	if err != nil {
		return err
	}
	cert, err := state.TransferToFastPay(context.Background(), message.Amount(amount), recipient, nil)
	if err != nil {
		return err
	}
	e.wallet.UpdateForReceivedTransfer(*cert)
	if err := e.save(state); err != nil {
		return err
	}
	fmt.Printf("transfer confirmed at sequence number %d\n", cert.Value.Transfer.SequenceNumber)
	return nil
}

func runOpenAccount(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	state, err := e.clientState(fromId)
	if err != nil {
		return err
	}
	key := message.GenerateKeyPair()
	childId, _, err := state.OpenAccount(context.Background(), key.GetPubKey())
	if err != nil {
		return err
	}
	child := &fastpay.UserAccount{AccountId: childId, Key: key}
	e.wallet.Insert(child)
	if err := e.save(state); err != nil {
		return err
	}
	fmt.Println(childId)
	return nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	accounts := e.wallet.Accounts()
	if len(accounts) < 2 {
		return fmt.Errorf("benchmark needs at least two wallet accounts")
	}
	logger := log.StandardLogger()
	start := time.Now()
	var confirmed int64

	// One client per account: sequence numbers are serialized within an
	// account, throughput comes from pipelining across accounts.
	states := make([]*fastpay.AccountClientState, len(accounts))
	g, ctx := errgroup.WithContext(context.Background())
	for i := range accounts {
		i := i
		states[i] = e.accountState(accounts[i])
		recipient := accounts[(i+1)%len(accounts)].AccountId
		g.Go(func() error {
			for n := 0; n < benchmarkTransfers; n++ {
				if _, err := states[i].TransferToFastPay(ctx, 1, recipient, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	confirmed = int64(len(accounts) * benchmarkTransfers)
	elapsed := time.Since(start)
	logger.WithField("transfers", confirmed).
		WithField("elapsed", elapsed).
		Infof("throughput %.0f tx/s", float64(confirmed)/elapsed.Seconds())
	return e.save(states...)
}
