// Command server runs one FastPay authority: a service for each shard, or a
// single shard for horizontally deployed authorities.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/novifinancial/fastpay"
	"github.com/novifinancial/fastpay/message"
	"github.com/novifinancial/fastpay/network"
)

var (
	serverConfigPath string

	host      string
	basePort  uint32
	numShards uint32
	protocol  string

	committeePath       string
	initialAccountsPath string
	shardFlag           int
	metricsAddress      string
)

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "A Byzantine fault tolerant payments sidechain with low-latency finality and high throughput",
	}
	root.PersistentFlags().StringVar(&serverConfigPath, "server", "",
		"Path to the file containing the server configuration of this FastPay authority (including its secret key)")
	root.MarkPersistentFlagRequired("server")

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new server configuration and print its public description",
		RunE:  runGenerate,
	}
	generate.Flags().StringVar(&host, "host", "0.0.0.0", "Listening address")
	generate.Flags().Uint32Var(&basePort, "port", 9100, "Base port; shard i listens on port+i")
	generate.Flags().Uint32Var(&numShards, "shards", 4, "Number of shards")
	generate.Flags().StringVar(&protocol, "protocol", network.ProtocolTCP, "Network protocol (tcp or udp)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a service for each shard of the FastPay authority",
		RunE:  runServer,
	}
	run.Flags().StringVar(&committeePath, "committee", "",
		"Path to the file containing the public description of all authorities in this FastPay committee")
	run.Flags().StringVar(&initialAccountsPath, "initial-accounts", "",
		"Path to the file describing the initial user accounts")
	run.Flags().IntVar(&shardFlag, "shard", -1, "Run a specific shard (from 0 to shards-1); all shards when unset")
	run.Flags().StringVar(&metricsAddress, "metrics", "", "Address to serve Prometheus metrics on (disabled when empty)")
	run.MarkFlagRequired("committee")
	run.MarkFlagRequired("initial-accounts")

	root.AddCommand(generate, run)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	key := message.GenerateKeyPair()
	cfg := &fastpay.AuthorityServerConfig{
		Authority: fastpay.AuthorityConfig{
			Name:      key.GetPubKey(),
			Host:      host,
			BasePort:  basePort,
			NumShards: numShards,
			Protocol:  protocol,
		},
		Key: key,
	}
	if err := cfg.Write(serverConfigPath); err != nil {
		return err
	}
	// Print the public fragment for assembly into the committee file.
	data, err := json.Marshal(&cfg.Authority)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.StandardLogger()
	serverConfig, err := fastpay.ReadAuthorityServerConfig(serverConfigPath)
	if err != nil {
		return err
	}
	committeeConfig, err := fastpay.ReadCommitteeConfig(committeePath)
	if err != nil {
		return err
	}
	initialAccounts, err := fastpay.ReadInitialStateConfig(initialAccountsPath)
	if err != nil {
		return err
	}
	committee := committeeConfig.Committee()
	authority := serverConfig.Authority

	var shards []*fastpay.AuthorityState
	for shard := uint32(0); shard < authority.NumShards; shard++ {
		if shardFlag >= 0 && uint32(shardFlag) != shard {
			continue
		}
		state := fastpay.NewAuthorityShard(committee, serverConfig.Key, message.ShardID(shard), authority.NumShards)
		state.SetLogger(logger)
		for _, account := range initialAccounts.Accounts {
			if fastpay.ShardFor(account.AccountId, authority.NumShards) != message.ShardID(shard) {
				continue
			}
			state.InsertAccount(account.AccountId,
				fastpay.NewAccountWithBalance(account.Owner, account.Balance))
		}
		shards = append(shards, state)
	}
	if len(shards) == 0 {
		return fmt.Errorf("shard %d out of range (0..%d)", shardFlag, authority.NumShards-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.WithField("address", metricsAddress).Info("serving metrics")
			http.ListenAndServe(metricsAddress, mux)
		}()
	}

	return network.RunAuthority(ctx, shards, authority.Host, authority.BasePort, authority.Protocol, logger)
}
