package cmd

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kvrouter/kvrouter/internal/blockhash"
	"github.com/kvrouter/kvrouter/internal/cachemap"
	"github.com/kvrouter/kvrouter/internal/dispatch"
	"github.com/kvrouter/kvrouter/internal/registry"
)

var (
	routerConfigPath   string
	routerListen       string
	routerStrategy     string
	routerProxyMode    bool
	routerBlockSize    int
	routerSpeculative  float64
	routerStaleSeconds float64
	routerHashAlgo     string
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the cache-aware dispatch router",
	Run:   runRouter,
}

func init() {
	routerCmd.Flags().StringVar(&routerConfigPath, "config", "", "Optional YAML config file")
	routerCmd.Flags().StringVar(&routerListen, "listen", ":8080", "Address to bind the router's HTTP server")
	routerCmd.Flags().StringVar(&routerStrategy, "strategy", "cache_aware", "Dispatch strategy: cache_aware, round_robin, least_loaded")
	routerCmd.Flags().BoolVar(&routerProxyMode, "proxy-mode", false, "Forward requests to the chosen worker and relay its response")
	routerCmd.Flags().IntVar(&routerBlockSize, "block-size-tokens", blockhash.DefaultBlockSize, "Number of tokens per cacheable block")
	routerCmd.Flags().Float64Var(&routerSpeculative, "speculative-addend-ms", dispatch.SpeculativeAddend, "Speculative load addend applied on dispatch (§9 anti-stampede)")
	routerCmd.Flags().Float64Var(&routerStaleSeconds, "stale-worker-seconds", 10, "Seconds without a heartbeat before a worker is excluded from routing")
	routerCmd.Flags().StringVar(&routerHashAlgo, "hash-algo", string(blockhash.AlgoSHA256), "Block hash digest: sha256 or xxhash")
}

// runRouter layers configuration file over flag defaults, then lets any
// flag the caller actually typed win — matching the usual CLI
// expectation that an explicit flag always beats a config file.
func runRouter(cmd *cobra.Command, args []string) {
	applyLogLevel()

	fileCfg, err := loadFileConfig(routerConfigPath)
	if err != nil {
		logrus.Fatalf("router: %v", err)
	}

	strategy := routerStrategy
	if !cmd.Flags().Changed("strategy") && fileCfg.Strategy != "" {
		strategy = fileCfg.Strategy
	}
	blockSize := routerBlockSize
	if !cmd.Flags().Changed("block-size-tokens") && fileCfg.BlockSizeTokens > 0 {
		blockSize = fileCfg.BlockSizeTokens
	}
	speculative := routerSpeculative
	if !cmd.Flags().Changed("speculative-addend-ms") && fileCfg.SpeculativeAddendMS > 0 {
		speculative = fileCfg.SpeculativeAddendMS
	}
	staleAfter := time.Duration(routerStaleSeconds * float64(time.Second))
	if !cmd.Flags().Changed("stale-worker-seconds") && fileCfg.StaleWorkerSeconds > 0 {
		staleAfter = seconds(fileCfg.StaleWorkerSeconds, staleAfter)
	}
	proxyMode := routerProxyMode
	if !cmd.Flags().Changed("proxy-mode") && fileCfg.ProxyMode {
		proxyMode = true
	}
	hashAlgo := blockhash.Algo(routerHashAlgo)
	if !cmd.Flags().Changed("hash-algo") && fileCfg.HashAlgo != "" {
		hashAlgo = blockhash.Algo(fileCfg.HashAlgo)
	}

	hasher := blockhash.New(blockSize, hashAlgo)
	cacheMap := cachemap.New()
	reg := registry.New(staleAfter)
	d := dispatch.New(hasher, cacheMap, reg, dispatch.StrategyKind(strategy), speculative, proxyMode)
	server := dispatch.NewServer(d, reg, cacheMap)

	logrus.WithFields(logrus.Fields{
		"listen":     routerListen,
		"strategy":   strategy,
		"proxy_mode": proxyMode,
		"block_size": blockSize,
	}).Info("starting kvrouter router")

	if err := http.ListenAndServe(routerListen, server.Handler()); err != nil {
		logrus.Fatalf("router: listen on %s: %v", routerListen, err)
	}
}
