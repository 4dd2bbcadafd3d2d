// Command wasmcore runs the deterministic WASM execution core as an HTTP
// daemon, fronting one runner per guest category (Tx, VP, matchmaker,
// filter). Grounded on cmd/cli/virtual_machine.go's vm start|stop|status
// tree and core/virtual_machine.go's mux.Router + rate limiter.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"ledgervm/core"
	"ledgervm/pkg/config"
)

var (
	coreOnce sync.Once
	coreErr  error

	cfg *config.Config

	txRunner     *core.TxRunner
	vpRunner     *core.VpRunner
	mmRunner     *core.MatchmakerRunner
	filterRunner *core.FilterRunner

	storage *core.MemStorage

	srv       *http.Server
	runCtx    context.Context
	runCancel context.CancelFunc
	startedAt time.Time

	logger = logrus.StandardLogger()
)

func wasmcoreInit(cmd *cobra.Command, _ []string) error {
	coreOnce.Do(func() {
		_ = godotenv.Load()

		logger.SetFormatter(&logrus.JSONFormatter{})

		c, err := config.LoadFromEnv()
		if err != nil {
			coreErr = err
			return
		}
		cfg = c

		if cfg.VM.Backend != "singlepass" {
			coreErr = fmt.Errorf("wasmcore: unsupported vm.backend %q (only \"singlepass\" is supported)", cfg.VM.Backend)
			return
		}

		lvl, err := logrus.ParseLevel(cfg.Logging.Level)
		if err != nil {
			coreErr = err
			return
		}
		logger.SetLevel(lvl)

		storage = core.NewMemStorage()

		mem := func(rm config.RunnerMemory) core.MemoryLimits {
			return core.MemoryLimits{InitialPages: rm.InitialPages, MaxPages: rm.MaxPages}
		}

		if txRunner, coreErr = core.NewTxRunner(mem(cfg.VM.Tx)); coreErr != nil {
			return
		}
		if vpRunner, coreErr = core.NewVpRunner(mem(cfg.VM.Vp)); coreErr != nil {
			return
		}
		if mmRunner, coreErr = core.NewMatchmakerRunner(mem(cfg.VM.Mm)); coreErr != nil {
			return
		}
		if filterRunner, coreErr = core.NewFilterRunner(mem(cfg.VM.Filter)); coreErr != nil {
			return
		}

		limiter := rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimitPerSec), cfg.HTTP.RateLimitBurst)
		rateLimit := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !limiter.Allow() {
					http.Error(w, "rate limit", http.StatusTooManyRequests)
					return
				}
				next.ServeHTTP(w, r)
			})
		}

		r := mux.NewRouter()
		r.Use(rateLimit)
		r.HandleFunc("/tx", txHandler).Methods("POST")
		r.HandleFunc("/vp", vpHandler).Methods("POST")
		r.HandleFunc("/mm", mmHandler).Methods("POST")
		r.HandleFunc("/filter", filterHandler).Methods("POST")

		srv = &http.Server{
			Addr:         cfg.HTTP.ListenAddr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	})
	return coreErr
}

// txRequest is the JSON wire shape for submitting a transaction module.
type txRequest struct {
	Code       string `json:"code"`
	Data       string `json:"data"`
	ChainID    string `json:"chain_id"`
	BlockNum   uint64 `json:"block_height"`
	GasCeiling uint64 `json:"gas_ceiling"`
}

func txHandler(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := hex.DecodeString(req.Code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ceiling := req.GasCeiling
	if ceiling == 0 {
		ceiling = cfg.VM.GasCeiling
	}
	gasMeter := core.NewBlockGasMeter(ceiling)
	wl := core.NewWriteLog(storage)
	chain := core.ChainContext{ChainID: req.ChainID, BlockHeight: req.BlockNum}

	verifiers, err := txRunner.Run(storage, wl, gasMeter, chain, code, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := struct {
		Verifiers []string `json:"verifiers"`
		GasUsed   uint64   `json:"gas_used"`
	}{GasUsed: gasMeter.Used()}
	for _, a := range verifiers.Addresses() {
		resp.Verifiers = append(resp.Verifiers, a.String())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type vpRequest struct {
	Code       string `json:"code"`
	Addr       string `json:"addr"`
	TxData     string `json:"tx_data"`
	GasCeiling uint64 `json:"gas_ceiling"`
}

func vpHandler(w http.ResponseWriter, r *http.Request) {
	var req vpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := hex.DecodeString(req.Code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	txData, err := hex.DecodeString(req.TxData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ceiling := req.GasCeiling
	if ceiling == 0 {
		ceiling = cfg.VM.GasCeiling
	}
	gasMeter := core.NewVpGasMeter(ceiling)

	accept, err := vpRunner.Run(storage, storage, gasMeter, core.ChainContext{}, code, core.VpInput{TxData: txData})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Accept bool `json:"accept"`
	}{Accept: accept})
}

type mmRequest struct {
	Code       string `json:"code"`
	Data       string `json:"data"`
	IntentID   string `json:"intent_id"`
	IntentData string `json:"intent_data"`
}

func mmHandler(w http.ResponseWriter, r *http.Request) {
	var req mmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := hex.DecodeString(req.Code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := hex.DecodeString(req.Data)
	intentID, _ := hex.DecodeString(req.IntentID)
	intentData, _ := hex.DecodeString(req.IntentData)

	gasMeter := core.NewGasMeter(cfg.VM.GasCeiling)
	matched, err := mmRunner.Run(code, data, intentID, intentData, gasMeter, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Matched bool `json:"matched"`
	}{Matched: matched})
}

type filterRequest struct {
	Code       string `json:"code"`
	IntentData string `json:"intent_data"`
}

func filterHandler(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code, err := hex.DecodeString(req.Code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	intentData, err := hex.DecodeString(req.IntentData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	gasMeter := core.NewGasMeter(cfg.VM.GasCeiling)
	accept, err := filterRunner.Run(code, intentData, gasMeter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Accept bool `json:"accept"`
	}{Accept: accept})
}

func handleStart(cmd *cobra.Command, _ []string) error {
	if srv == nil {
		return errors.New("wasmcore: middleware not initialized")
	}
	if runCtx != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "wasmcore already running")
		return nil
	}
	runCtx, runCancel = context.WithCancel(context.Background())
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("wasmcore http: %v", err)
		}
	}()
	startedAt = time.Now()
	fmt.Fprintf(cmd.OutOrStdout(), "wasmcore started on %s\n", srv.Addr)
	return nil
}

func handleStop(cmd *cobra.Command, _ []string) error {
	if runCtx == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "wasmcore not running")
		return nil
	}
	runCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	runCtx, runCancel = nil, nil
	fmt.Fprintln(cmd.OutOrStdout(), "wasmcore stopped")
	return nil
}

func handleStatus(cmd *cobra.Command, _ []string) error {
	running := runCtx != nil
	uptime := time.Since(startedAt).Truncate(time.Second)
	fmt.Fprintf(cmd.OutOrStdout(), "running: %v\nlisten: %s\nuptime: %s\n", running, srv.Addr, uptime)
	return nil
}

var rootCmd = &cobra.Command{Use: "wasmcore", Short: "Deterministic WASM execution core", PersistentPreRunE: wasmcoreInit}
var startCmd = &cobra.Command{Use: "start", Short: "Start the HTTP daemon", Args: cobra.NoArgs, RunE: handleStart}
var stopCmd = &cobra.Command{Use: "stop", Short: "Stop the HTTP daemon", Args: cobra.NoArgs, RunE: handleStop}
var statusCmd = &cobra.Command{Use: "status", Short: "Show daemon status", Args: cobra.NoArgs, RunE: handleStatus}
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP daemon and block until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := handleStart(cmd, args); err != nil {
			return err
		}
		select {}
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
		os.Exit(1)
	}
}
