package cmd

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/worker"
)

var (
	workerConfigPath  string
	workerID          string
	workerListen      string
	workerPublicURL   string
	workerRouterURL   string
	workerBlockSize   int
	workerCapacity    int
	workerPrefillBase float64
	workerPrefillBlk  float64
	workerDecodeTok   float64
	workerFixedDecode int
	workerHeartbeatS  float64
	workerSyncS       float64
	workerHashAlgo    string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker node: block cache, scheduler, and consistency reporting",
	Run:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerConfigPath, "config", "", "Optional YAML config file")
	workerCmd.Flags().StringVar(&workerID, "id", "", "Worker identifier reported to the router (required)")
	workerCmd.Flags().StringVar(&workerListen, "listen", ":9090", "Address to bind the worker's HTTP server")
	workerCmd.Flags().StringVar(&workerPublicURL, "worker-url", "", "URL other components use to reach this worker (defaults to http://localhost<listen>)")
	workerCmd.Flags().StringVar(&workerRouterURL, "router-url", "http://localhost:8080", "Base URL of the router's internal protocol endpoints")
	workerCmd.Flags().IntVar(&workerBlockSize, "block-size-tokens", blockhash.DefaultBlockSize, "Number of tokens per cacheable block")
	workerCmd.Flags().IntVar(&workerCapacity, "block-capacity", worker.DefaultBlockCapacity, "Total KV blocks this worker holds (N_BLOCKS)")
	workerCmd.Flags().Float64Var(&workerPrefillBase, "prefill-base-ms", worker.DefaultLatencyConfig().PrefillBaseMS, "Fixed prefill overhead per request")
	workerCmd.Flags().Float64Var(&workerPrefillBlk, "prefill-per-block-ms", worker.DefaultLatencyConfig().PrefillPerBlockMS, "Prefill cost per block requiring computation")
	workerCmd.Flags().Float64Var(&workerDecodeTok, "decode-per-token-ms", worker.DefaultLatencyConfig().DecodePerTokenMS, "Decode cost per generated token")
	workerCmd.Flags().IntVar(&workerFixedDecode, "decode-tokens", 64, "Fixed number of tokens generated per request (DecodeTokenPolicy stand-in)")
	workerCmd.Flags().Float64Var(&workerHeartbeatS, "heartbeat-period-seconds", 1, "Heartbeat period")
	workerCmd.Flags().Float64Var(&workerSyncS, "sync-period-seconds", 5, "Sync period")
	workerCmd.Flags().StringVar(&workerHashAlgo, "hash-algo", string(blockhash.AlgoSHA256), "Block hash digest: sha256 or xxhash")
}

// runWorker layers configuration file over flag defaults, then lets any
// flag the caller actually typed win, matching runRouter's precedence.
func runWorker(cmd *cobra.Command, args []string) {
	applyLogLevel()

	fileCfg, err := loadFileConfig(workerConfigPath)
	if err != nil {
		logrus.Fatalf("worker: %v", err)
	}
	if workerID == "" {
		logrus.Fatal("worker: --id is required")
	}

	blockSize := workerBlockSize
	if !cmd.Flags().Changed("block-size-tokens") && fileCfg.BlockSizeTokens > 0 {
		blockSize = fileCfg.BlockSizeTokens
	}
	capacity := workerCapacity
	if !cmd.Flags().Changed("block-capacity") && fileCfg.BlockCapacity > 0 {
		capacity = fileCfg.BlockCapacity
	}
	prefillBase := workerPrefillBase
	if !cmd.Flags().Changed("prefill-base-ms") && fileCfg.PrefillBaseMS > 0 {
		prefillBase = fileCfg.PrefillBaseMS
	}
	prefillBlk := workerPrefillBlk
	if !cmd.Flags().Changed("prefill-per-block-ms") && fileCfg.PrefillPerBlockMS > 0 {
		prefillBlk = fileCfg.PrefillPerBlockMS
	}
	decodeTok := workerDecodeTok
	if !cmd.Flags().Changed("decode-per-token-ms") && fileCfg.DecodePerTokenMS > 0 {
		decodeTok = fileCfg.DecodePerTokenMS
	}
	heartbeatS := workerHeartbeatS
	if !cmd.Flags().Changed("heartbeat-period-seconds") && fileCfg.HeartbeatPeriodSeconds > 0 {
		heartbeatS = fileCfg.HeartbeatPeriodSeconds
	}
	syncS := workerSyncS
	if !cmd.Flags().Changed("sync-period-seconds") && fileCfg.SyncPeriodSeconds > 0 {
		syncS = fileCfg.SyncPeriodSeconds
	}
	hashAlgo := workerHashAlgo
	if !cmd.Flags().Changed("hash-algo") && fileCfg.HashAlgo != "" {
		hashAlgo = fileCfg.HashAlgo
	}

	publicURL := workerPublicURL
	if publicURL == "" {
		publicURL = "http://localhost" + workerListen
	}

	node := worker.NewNode(worker.Config{
		ID:            workerID,
		URL:           publicURL,
		RouterURL:     workerRouterURL,
		BlockSize:     blockSize,
		BlockCapacity: capacity,
		Latency: worker.LatencyConfig{
			PrefillBaseMS:     prefillBase,
			PrefillPerBlockMS: prefillBlk,
			DecodePerTokenMS:  decodeTok,
		},
		DecodeFunc:      worker.FixedDecodeTokens(workerFixedDecode),
		HashAlgo:        blockhash.Algo(hashAlgo),
		HeartbeatPeriod: time.Duration(heartbeatS * float64(time.Second)),
		SyncPeriod:      time.Duration(syncS * float64(time.Second)),
	})

	node.Start()
	defer node.Stop()

	logrus.WithFields(logrus.Fields{
		"id":         workerID,
		"listen":     workerListen,
		"router_url": workerRouterURL,
		"url":        publicURL,
	}).Info("starting kvrouter worker")

	if err := http.ListenAndServe(workerListen, node.Server.Handler()); err != nil {
		logrus.Fatalf("worker: listen on %s: %v", workerListen, err)
	}
}
