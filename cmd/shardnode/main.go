// Command shardnode runs one replica of the sharded consensus network:
// it loads configuration, brings up the libp2p transport host, wires a
// node.Node over it, and serves the JSON-RPC front end. Grounded on the
// teacher's cmd/harmony entrypoint shape (urfave/cli.v1 app with a single
// action, zerolog configured before anything else runs, signal-driven
// shutdown) adapted onto this module's node.New/config.Load.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harmony-one/bls/ffi/go/bls"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/natefinch/lumberjack"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/urfave/cli.v1"

	"github.com/shardcore/corenode/archival"
	"github.com/shardcore/corenode/byzantine"
	"github.com/shardcore/corenode/config"
	"github.com/shardcore/corenode/cryptoutil"
	"github.com/shardcore/corenode/node"
	"github.com/shardcore/corenode/persistence"
	"github.com/shardcore/corenode/transport"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a node config.yaml (defaults apply if omitted)",
	}
	keyFileFlag = cli.StringFlag{
		Name:  "keyfile",
		Usage: "path to a hex-encoded BLS381 secret key (generated if missing)",
		Value: "./bls.key",
	}
	shardIDFlag = cli.UintFlag{
		Name:  "shard",
		Usage: "shard this replica serves (0 is the directory-service shard)",
	}
	selfIndexFlag = cli.IntFlag{
		Name:  "index",
		Usage: "this replica's seat index within its committee",
	}
	committeeFlag = cli.StringSliceFlag{
		Name:  "committee",
		Usage: "hex BLS381 public keys of the committee, in canonical order",
	}
	dedupTTLFlag = cli.DurationFlag{
		Name:  "dedup-ttl",
		Usage: "how long a gossiped frame is remembered to suppress re-delivery",
		Value: 5 * time.Minute,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "shardnode"
	app.Usage = "run a sharded consensus replica"
	app.Flags = []cli.Flag{configFlag, keyFileFlag, shardIDFlag, selfIndexFlag, committeeFlag, dedupTTLFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return errors.Wrap(err, "shardnode: load config")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("config", cfg.String()).Msg("shardnode: configuration loaded")

	selfKey, err := loadOrCreateKey(c.String(keyFileFlag.Name))
	if err != nil {
		return errors.Wrap(err, "shardnode: load bls key")
	}

	committee := asPublicKeys(c.StringSlice(committeeFlag.Name))
	if len(committee) == 0 {
		committee = []byzantine.PublicKey{byzantine.PublicKey(selfKey.GetPublicKey().SerializeToHexStr())}
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "shardnode: create data dir")
	}
	overflow, err := persistence.OpenLevelDB(filepath.Join(cfg.Storage.DataDir, "chaindata"))
	if err != nil {
		return errors.Wrap(err, "shardnode: open leveldb")
	}

	var uploader *archival.Uploader
	if cfg.Storage.ArchivalBucket != "" {
		uploader, err = archival.NewUploader(cfg.Storage.ArchivalBucket, cfg.Storage.ArchivalRegion, 2, logger)
		if err != nil {
			return errors.Wrap(err, "shardnode: start archival uploader")
		}
	}

	deps := node.Deps{
		SelfKey:        selfKey,
		SelfIndex:      c.Int(selfIndexFlag.Name),
		ShardID:        uint32(c.Uint(shardIDFlag.Name)),
		CommitteeOrder: committee,
		Overflow:       overflow,
		Archiver:       uploader,
		Logger:         logger,
	}
	n, err := node.New(cfg, deps)
	if err != nil {
		return errors.Wrap(err, "shardnode: construct node")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedup, err := transport.NewSeenCache(c.Duration(dedupTTLFlag.Name))
	if err != nil {
		return errors.Wrap(err, "shardnode: build dedup cache")
	}
	host, err := transport.NewHost(ctx, cfg.Network.ListenAddr, dedup, logger)
	if err != nil {
		return errors.Wrap(err, "shardnode: start transport host")
	}
	n.AttachHost(host)
	logger.Info().Str("peer_id", host.ID().String()).Msg("shardnode: transport host listening")

	for _, addr := range cfg.Network.BootstrapPeers {
		if err := dialBootstrapPeer(ctx, host, addr); err != nil {
			logger.Warn().Err(err).Str("addr", addr).Msg("shardnode: failed to dial bootstrap peer")
		}
	}

	httpSrv := &http.Server{
		Addr:    cfg.RPC.ListenAddr,
		Handler: n.RPCHandler(),
	}
	go func() {
		logger.Info().Str("addr", cfg.RPC.ListenAddr).Msg("shardnode: rpc server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("shardnode: rpc server exited")
		}
	}()

	leaderErrCh := make(chan error, 1)
	go func() { leaderErrCh <- n.RunLeaderLoop(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shardnode: shutting down")
	case err := <-leaderErrCh:
		logger.Error().Err(err).Msg("shardnode: leader loop exited")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shardnode: rpc server did not shut down cleanly")
	}
	n.Shutdown()
	return nil
}

// newLogger builds the console logger every run uses, tee'd into a
// size/age-rotated file sink when cfg names one. Grounded on the
// teacher's natefinch/lumberjack dependency, which it pairs the same way
// with its own zerolog/console setup.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	var out io.Writer = console
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(console, rotating)
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// loadOrCreateKey reads a hex-encoded BLS381 secret key from path,
// generating and persisting a fresh one if the file does not exist yet.
func loadOrCreateKey(path string) (*bls.SecretKey, error) {
	if err := cryptoutil.Init(); err != nil {
		return nil, err
	}

	raw, err := ioutil.ReadFile(path)
	if err == nil {
		decoded, decErr := hex.DecodeString(string(raw))
		if decErr != nil {
			return nil, errors.Wrap(decErr, "decode key file")
		}
		return cryptoutil.SecretFromBytes(decoded)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if writeErr := ioutil.WriteFile(path, []byte(hex.EncodeToString(kp.Private)), 0o600); writeErr != nil {
		return nil, errors.Wrap(writeErr, "persist generated key")
	}
	return cryptoutil.SecretFromBytes(kp.Private)
}

func asPublicKeys(hexKeys []string) []byzantine.PublicKey {
	out := make([]byzantine.PublicKey, len(hexKeys))
	for i, k := range hexKeys {
		out[i] = byzantine.PublicKey(k)
	}
	return out
}

func dialBootstrapPeer(ctx context.Context, host *transport.Host, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return errors.Wrap(err, "parse bootstrap peer multiaddr")
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return errors.Wrap(err, "resolve bootstrap peer addr info")
	}
	return host.Connect(ctx, *info)
}
