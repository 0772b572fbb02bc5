// Command raftd runs a single node of a raft cluster: it binds a UDP
// transport, opens its sqlite-backed state and log stores, and serves an
// HTTP status endpoint, mirroring pyraft/run.py's start() wiring (parse
// peer list, build a Server, register listeners, start the UDP
// endpoint) translated into Go's cobra/CLI idiom.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/raftkv/raft"
	"github.com/raftkv/raft/httpstatus"
	"github.com/raftkv/raft/storage"
	"github.com/raftkv/raft/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file shape, mirroring
// pyraft/config.py's Settings dataclass fields that make sense to tune
// per-deployment rather than per-flag.
type fileConfig struct {
	HeartbeatIntervalMS     int     `yaml:"heartbeat_interval_ms"`
	StepDownMissedHeartbeats int    `yaml:"step_down_missed_heartbeats"`
	ElectionIntervalSpread  int     `yaml:"election_interval_spread"`
	AppendEntriesMaxBatch   int     `yaml:"append_entries_max_batch"`
	CipherEnabled           bool    `yaml:"cipher_enabled"`
	CipherSecret            string  `yaml:"cipher_secret"`
}

func main() {
	var (
		listenAddr string
		peersFlag  string
		dataDir    string
		httpAddr   string
		cipherKey  string
		configPath string
	)

	root := &cobra.Command{
		Use:   "raftd",
		Short: "run a node of a raft consensus cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := parsePeers(peersFlag)
			if err != nil {
				return err
			}
			if !contains(peers, listenAddr) {
				return fmt.Errorf("raftd: --listen %s must be included in --peers", listenAddr)
			}

			cfg := raft.DefaultConfig()
			if configPath != "" {
				if err := applyFileConfig(&cfg, configPath); err != nil {
					return err
				}
			}
			if cipherKey != "" {
				cfg.CipherEnabled = true
				cfg.CipherSecret = cipherKey
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("raftd: build logger: %w", err)
			}
			defer logger.Sync()

			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("raftd: create data dir: %w", err)
			}
			dbPath := fmt.Sprintf("%s/%s.db", dataDir, sanitizeForFilename(listenAddr))
			db, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			stateStore, err := storage.NewStateStore(db, listenAddr)
			if err != nil {
				return err
			}
			logStore, err := storage.NewLogStore(db, listenAddr)
			if err != nil {
				return err
			}
			sm := raft.NewStateMachine(nil)

			var cipher transport.Cipher
			if cfg.CipherEnabled {
				cipher = transport.NewSecretboxCipher(cfg.CipherSecret)
			}
			udp, err := transport.NewUDPTransport(listenAddr, transport.MsgpackCodec{}, cipher, logger)
			if err != nil {
				return err
			}

			server := raft.NewServer(listenAddr, peers, cfg, udp, stateStore, logStore, sm, logger)
			server.OnRoleChange(func(role raft.Role) {
				logger.Info("role change", zap.String("id", listenAddr), zap.String("role", string(role)), zap.Uint64("term", server.Term()))
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()

			mux := http.NewServeMux()
			httpstatus.NewHandler(listenAddr, server).Install(mux)
			httpServer := &http.Server{Addr: httpAddr, Handler: mux}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Warn("http status server exited", zap.Error(err))
				}
			}()

			logger.Info("raftd started", zap.String("listen", listenAddr), zap.Strings("peers", peers))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}

	root.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7400", "this node's udp address (must appear in --peers)")
	root.Flags().StringVar(&peersFlag, "peers", "", "comma-separated udp addresses of every node in the cluster, including this one")
	root.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for this node's sqlite-backed state and log")
	root.Flags().StringVar(&httpAddr, "http", "127.0.0.1:8400", "address for the read-only status endpoint")
	root.Flags().StringVar(&cipherKey, "cipher-key", "", "enable datagram encryption with this shared secret")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML file overriding timing defaults")
	root.MarkFlagRequired("peers")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parsePeers mirrors pyraft/run.py's parser_server_str: a comma
// separated "host:port,host:port" list.
func parsePeers(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("raftd: --peers must not be empty")
	}
	parts := strings.Split(s, ",")
	peers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		peers = append(peers, p)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("raftd: --peers produced no addresses")
	}
	return peers, nil
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func sanitizeForFilename(addr string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(addr)
}

func applyFileConfig(cfg *raft.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("raftd: read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("raftd: parse config %s: %w", path, err)
	}
	if fc.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(fc.HeartbeatIntervalMS) * time.Millisecond
	}
	if fc.StepDownMissedHeartbeats > 0 {
		cfg.StepDownMissedHeartbeats = fc.StepDownMissedHeartbeats
	}
	if fc.ElectionIntervalSpread > 0 {
		cfg.ElectionIntervalSpread = fc.ElectionIntervalSpread
	}
	if fc.AppendEntriesMaxBatch > 0 {
		cfg.AppendEntriesMaxBatch = fc.AppendEntriesMaxBatch
	}
	if fc.CipherEnabled {
		cfg.CipherEnabled = true
		cfg.CipherSecret = fc.CipherSecret
	}
	return nil
}
