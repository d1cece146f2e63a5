// Command coordinatord runs one EdgeCoder coordinator-core node: mesh
// gossip, fair-share scheduling, the credit economy, and the hash-chained
// ledgers, exposed over the HTTP surface of spec §6.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/edgecoder/coordinator/internal/api"
	"github.com/edgecoder/coordinator/internal/behavior"
	"github.com/edgecoder/coordinator/internal/config"
	"github.com/edgecoder/coordinator/internal/credit"
	"github.com/edgecoder/coordinator/internal/identity"
	"github.com/edgecoder/coordinator/internal/ledger"
	"github.com/edgecoder/coordinator/internal/mesh"
	"github.com/edgecoder/coordinator/internal/metrics"
	"github.com/edgecoder/coordinator/internal/protocol"
	"github.com/edgecoder/coordinator/internal/providers"
	"github.com/edgecoder/coordinator/internal/scheduler"
	"github.com/edgecoder/coordinator/internal/security"
	"github.com/edgecoder/coordinator/internal/store"
	"github.com/edgecoder/coordinator/internal/trust"
)

// Exit codes per spec §6: 0 clean, 1 fatal config or bootstrap failure,
// 2 persistent peer isolation requiring operator intervention.
const (
	exitOK            = 0
	exitFatal         = 1
	exitPeerIsolation = 2
)

var log = logrus.WithField("component", "coordinatord")

func main() {
	os.Exit(run())
}

func run() int {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return exitFatal
	}

	node, err := bootNode(cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize node")
		return exitFatal
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node.runBackgroundTasks(ctx)

	httpServer := &http.Server{Addr: node.listenAddr, Handler: node.routes}
	serveErrCh := make(chan error, 1)
	go func() {
		log.WithField("addr", node.listenAddr).Info("coordinator listening")
		serveErrCh <- httpServer.ListenAndServe()
	}()

	exitCode := exitOK
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			exitCode = exitFatal
		}
	case <-node.peerIsolated:
		log.Error("persistent peer isolation: bootstrap exhausted every reconnection attempt, operator intervention required")
		exitCode = exitPeerIsolation
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		return exitFatal
	}
	return exitCode
}

// node bundles every long-lived component wired from cfg, plus the
// pieces runBackgroundTasks needs to drive the periodic mesh/economy
// cycles (spec §5).
type node struct {
	listenAddr string
	routes     http.Handler

	self  *identity.Identity
	peers *mesh.PeerSet
	broadcaster *mesh.Broadcaster
	bootstrapper *mesh.Bootstrapper
	capabilities *mesh.CapabilityTable
	reconnect    *mesh.ReconnectManager

	queue  *scheduler.Queue
	creditEngine *credit.Engine

	orderingChain *ledger.OrderingChain
	quorumChain   *ledger.QuorumChain
	anchorProvider ledger.AnchorProvider
	anchorStatus   ledger.AnchorStatus

	blacklist       *security.Chain
	tracker         *behavior.Tracker
	autoBlacklister *behavior.AutoBlacklister

	srv   *api.Server
	cfg   *config.Config
	store store.Store

	// peerIsolated is closed once by bootstrapWithRetry when the
	// reconnect manager reports the bootstrap sequence has given up
	// after exhausting every attempt (spec §6 exit code 2).
	peerIsolated chan struct{}
}

func bootNode(cfg *config.Config) (*node, error) {
	self, err := loadOrCreateIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	backingStore, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	transport := mesh.NewHTTPTransport(5 * time.Second)
	peers := mesh.NewPeerSet(120_000)
	broadcaster := mesh.NewBroadcaster(self, peers, transport, 5*time.Second)
	bootstrapper := mesh.NewBootstrapper(self, peers, transport)
	capabilities := mesh.NewCapabilityTable()
	reconnect := mesh.NewReconnectManager()
	dedup := protocol.NewDedup(5_000)

	queue := scheduler.NewQueue()

	policy := credit.DefaultPolicy()
	policy.MinContributionRatio = cfg.MinContributionRatio
	policy.ContributionBurstCredits = cfg.ContributionBurstCredits
	creditEngine := credit.NewEngine(policy, newUUIDGen())

	orderingChain := ledger.NewOrderingChain()
	quorumChain := ledger.NewQuorumChain()
	anchorProvider := buildAnchorProvider()
	paymentProvider := buildPaymentProvider(self)

	blacklist := security.NewChain()
	tracker := behavior.NewTracker(time.Hour)
	autoBlacklister := behavior.NewAutoBlacklister()

	srv := api.NewServer()
	srv.Self = self
	srv.Peers = peers
	srv.Broadcaster = broadcaster
	srv.Bootstrapper = bootstrapper
	srv.Capabilities = capabilities
	srv.Dedup = dedup
	srv.Queue = queue
	srv.Credit = creditEngine
	srv.PaymentProvider = paymentProvider
	srv.IssuanceCurve = ledger.IssuanceCurve{
		BaseDailyPool:    cfg.IssuanceBaseDailyPool,
		MinDailyPool:     cfg.IssuanceMinDailyPool,
		MaxDailyPool:     cfg.IssuanceMaxDailyPool,
		LoadCurveSlope:   cfg.IssuanceLoadCurveSlope,
		SmoothingAlpha:   cfg.IssuanceSmoothingAlpha,
		CoordinatorShare: cfg.IssuanceCoordinatorShare,
		ReserveShare:     cfg.IssuanceReserveShare,
	}
	srv.OrderingChain = orderingChain
	srv.QuorumChain = quorumChain
	srv.AnchorProvider = anchorProvider
	srv.Blacklist = blacklist
	srv.Tracker = tracker
	srv.AutoBlacklister = autoBlacklister
	srv.Nonces = trust.NewNonceCache(10_000)
	srv.MeshAuthToken = cfg.MeshAuthToken
	srv.AdminAPIToken = cfg.AdminAPIToken
	srv.IntentLimiter = api.NewSlidingWindowLimiter(5, 15*time.Minute)
	srv.ClaimLimiter = api.NewSlidingWindowLimiter(120, time.Minute)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	mux := srv.Routes()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := ":8080"
	if cfg.CoordinatorURL != "" {
		if port := portFromURL(cfg.CoordinatorURL); port != "" {
			addr = ":" + port
		}
	}

	return &node{
		listenAddr: addr,
		routes:     mux,

		self:  self,
		peers: peers,
		broadcaster: broadcaster,
		bootstrapper: bootstrapper,
		capabilities: capabilities,
		reconnect:    reconnect,

		queue:  queue,
		creditEngine: creditEngine,

		orderingChain: orderingChain,
		quorumChain:   quorumChain,
		anchorProvider: anchorProvider,

		blacklist:       blacklist,
		tracker:         tracker,
		autoBlacklister: autoBlacklister,

		srv:   srv,
		cfg:   cfg,
		store: backingStore,

		peerIsolated: make(chan struct{}),
	}, nil
}

func loadOrCreateIdentity(cfg *config.Config) (*identity.Identity, error) {
	role := identity.RoleCoordinator
	mode := identity.NetworkMode(cfg.NetworkMode)
	if cfg.CoordinatorPrivateKeyPEM != "" {
		peerID := os.Getenv("COORDINATOR_PEER_ID")
		if peerID == "" {
			return nil, errors.New("COORDINATOR_PEER_ID must be set alongside COORDINATOR_PRIVATE_KEY_PEM")
		}
		return identity.Load(peerID, role, mode, cfg.CoordinatorURL, []byte(cfg.CoordinatorPrivateKeyPEM), 24*time.Hour)
	}
	log.Warn("COORDINATOR_PRIVATE_KEY_PEM not set; generating an ephemeral identity for this process")
	return identity.New(role, mode, cfg.CoordinatorURL, 24*time.Hour)
}

func openStore() (store.Store, error) {
	if path := os.Getenv("EDGECODER_STORE_PATH"); path != "" {
		return store.OpenBoltStore(path)
	}
	return store.NewMemStore(), nil
}

// buildAnchorProvider wires a Bitcoin RPC anchor provider when the usual
// bitcoind RPC environment variables are present, falling back to a noop
// provider (spec §6 AnchorProvider is explicitly pluggable).
func buildAnchorProvider() ledger.AnchorProvider {
	host := os.Getenv("BITCOIND_RPC_HOST")
	if host == "" {
		return providers.NoopAnchorProvider{}
	}
	p, err := providers.NewBitcoinAnchorProvider(providers.RPCConfig{
		Host: host,
		User: os.Getenv("BITCOIND_RPC_USER"),
		Pass: os.Getenv("BITCOIND_RPC_PASS"),
	})
	if err != nil {
		log.WithError(err).Warn("could not initialize bitcoin anchor provider, falling back to noop")
		return providers.NoopAnchorProvider{}
	}
	return p
}

// buildPaymentProvider wires a Lightning invoice provider for purchased
// credits, signing invoices with the coordinator's identity key. There is
// no noop fallback: payment intents always go through this provider.
func buildPaymentProvider(self *identity.Identity) credit.PaymentProvider {
	mainnet := os.Getenv("NETWORK") == "mainnet"
	return providers.NewLightningProvider(func(msg []byte) ([]byte, error) {
		return self.Sign(msg), nil
	}, mainnet)
}

func newUUIDGen() func() string {
	return uuid.NewString
}

func portFromURL(u string) string {
	for i := len(u) - 1; i >= 0; i-- {
		if u[i] == ':' {
			return u[i+1:]
		}
		if u[i] == '/' {
			break
		}
	}
	return ""
}

// runBackgroundTasks starts every periodic coordinator-core cycle of
// spec §5 as a cancellable goroutine tied to ctx.
func (n *node) runBackgroundTasks(ctx context.Context) {
	if len(n.cfg.CoordinatorBootstrapURLs) > 0 {
		go n.bootstrapWithRetry(ctx)
	}

	go n.every(ctx, 30*time.Second, n.peerExchangeTick)
	go n.every(ctx, 60*time.Second, n.evictionTick)
	go n.every(ctx, 60*time.Second, n.capabilityGossipTick)
	go n.every(ctx, 30*time.Second, n.claimTimeoutTick)
	go n.every(ctx, 60*time.Second, n.behaviorTick)
	go n.every(ctx, 30*time.Second, n.persistTick)
	go n.every(ctx, 15*time.Second, n.metricsTick)

	recalc := time.Duration(n.cfg.IssuanceRecalcMs) * time.Millisecond
	if recalc <= 0 {
		recalc = time.Hour
	}
	go n.every(ctx, recalc, n.issuanceTick)

	anchorInterval := time.Duration(n.cfg.AnchorIntervalMs) * time.Millisecond
	if anchorInterval <= 0 {
		anchorInterval = 6 * time.Hour
	}
	go n.every(ctx, anchorInterval, n.anchorTick)
}

// every runs fn immediately and then on every tick of interval until ctx
// is cancelled, logging and swallowing panics so one cycle's failure
// never takes down the others.
func (n *node) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	runOnce := func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("periodic task panicked")
			}
		}()
		fn(ctx)
	}
	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// bootstrapWithRetry drives the startup bootstrap sequence against the
// configured seed URLs, backing off per spec §4.2's reconnection policy
// between attempts until one attempt succeeds against every seed or the
// single reconnect entry shared by the whole sequence gives up.
func (n *node) bootstrapWithRetry(ctx context.Context) {
	const bootstrapKey = "bootstrap"
	for {
		if err := n.bootstrapper.Bootstrap(ctx, n.cfg.CoordinatorBootstrapURLs); err == nil {
			n.reconnect.Succeeded(bootstrapKey)
			return
		} else {
			log.WithError(err).Warn("bootstrap attempt failed, backing off")
		}
		delay, gaveUp := n.reconnect.NextDelay(bootstrapKey)
		if gaveUp {
			log.Warn("bootstrap exhausted all reconnection attempts")
			close(n.peerIsolated)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (n *node) peerExchangeTick(ctx context.Context) {
	if _, err := n.broadcaster.BroadcastPeerExchange(ctx); err != nil {
		log.WithError(err).Warn("peer_exchange broadcast failed")
	}
}

func (n *node) evictionTick(context.Context) {
	evicted := n.peers.EvictStale(protocol.NowMs())
	if len(evicted) > 0 {
		log.WithField("count", len(evicted)).Info("evicted stale peers")
	}
}

func (n *node) capabilityGossipTick(ctx context.Context) {
	summary := mesh.CapabilitySummary{
		CoordinatorID: n.self.PeerID(),
		AgentCount:    n.peers.Len(),
		ModelAvailability: map[string]mesh.ModelCapability{},
		TimestampMs:   protocol.NowMs(),
	}
	if _, err := n.broadcaster.BroadcastCapability(ctx, summary); err != nil {
		log.WithError(err).Warn("capability_summary broadcast failed")
	}
}

func (n *node) claimTimeoutTick(context.Context) {
	for _, s := range n.queue.TimeoutClaims(protocol.NowMs()) {
		_, err := n.orderingChain.Append(ledger.QueueEventRecord{
			ID:        uuid.NewString(),
			EventType: ledger.EventTaskRequeued,
			TaskID:    s.TaskID,
			SubtaskID: s.ID,
			ActorID:   n.self.PeerID(),
		}, n.self)
		if err != nil {
			log.WithError(err).Warn("failed to record requeue event")
		}
	}
}

// behaviorTick re-evaluates every tracked agent's rolling window against
// the ten anomaly rules (spec §4.7), auto-blacklisting agents that trip a
// CRITICAL rule or accumulate enough strikes.
func (n *node) behaviorTick(context.Context) {
	nowMs := protocol.NowMs()
	for _, agentID := range n.tracker.Agents() {
		stats := n.tracker.Query(agentID, nowMs)
		fired := behavior.Evaluate(stats, defaultClaimLimit, 0)
		if len(fired) == 0 {
			continue
		}
		for _, e := range fired {
			metrics.BehavioralStrikes.WithLabelValues(e.RuleID, string(e.Severity)).Inc()
		}
		decision := n.autoBlacklister.Observe(agentID, fired, nowMs)
		if decision == nil || !decision.ShouldBlacklist {
			continue
		}
		_, err := n.blacklist.Append(security.BlacklistRecord{
			EventID:     uuid.NewString(),
			AgentID:     agentID,
			Reason:      decision.TriggeringEvent.Description,
			ReasonCode:  decision.TriggeringEvent.BlacklistReason,
			ReporterID:  n.self.PeerID(),
			TimestampMs: nowMs,
		}, n.self.PeerID(), n.self)
		if err != nil {
			log.WithError(err).WithField("agentId", agentID).Error("failed to append blacklist record")
		}
	}
}

const defaultClaimLimit = 10

// issuanceTick recomputes the rolling issuance epoch from the credit
// engine's recent earn activity (spec §4.5).
func (n *node) issuanceTick(context.Context) {
	nowMs := protocol.NowMs()
	windowStart := nowMs - 3600_000

	var totalLoad float64
	depth := n.queue.Depth()
	if depth > 0 {
		totalLoad = float64(depth) / 10.0
	}

	var contributions []ledger.Contribution
	for _, accountID := range n.creditEngine.Accounts() {
		earned := n.creditEngine.EarnedSince(accountID, windowStart)
		if earned > 0 {
			contributions = append(contributions, ledger.Contribution{AccountID: accountID, WeightedContribution: earned})
		}
	}

	n.srv.RecalculateIssuance(n.self.PeerID(), totalLoad, contributions, nowMs)
}

// anchorTick advances or initiates external anchoring of the ordering
// chain's current tail (spec §4.5's anchoring/finality state machine).
func (n *node) anchorTick(context.Context) {
	tail, err := n.orderingChain.Tail()
	if err != nil {
		return // nothing appended yet
	}
	if n.anchorStatus.CheckpointHash != tail.Hash {
		n.anchorStatus = ledger.AnchorStatus{CheckpointHash: tail.Hash, State: ledger.FinalitySoftFinalized}
	}
	if n.anchorStatus.TxRef == "" {
		txid, err := n.anchorProvider.BroadcastOpReturn(tail.Hash)
		if err != nil {
			log.WithError(err).Warn("anchor broadcast failed")
			return
		}
		if txid == "" {
			return // no anchor backend: the checkpoint stays soft_finalized
		}
		n.anchorStatus.TxRef = txid
		n.anchorStatus.State = ledger.FinalityAnchoredPending
		return
	}
	n.anchorStatus = ledger.AdvanceAnchor(n.anchorStatus, n.anchorProvider)
}

// metricsTick refreshes the gauges that reflect current state rather than
// counted events: queue depth per project, peer count, and the length of
// every hash chain (spec §5/§6).
func (n *node) metricsTick(context.Context) {
	metrics.PeerCount.Set(float64(n.peers.Len()))

	for projectID, depth := range n.queue.DepthByProject() {
		metrics.QueueDepth.WithLabelValues(projectID).Set(float64(depth))
	}

	metrics.LedgerLength.WithLabelValues("ordering").Set(float64(len(n.orderingChain.Snapshot())))
	metrics.LedgerLength.WithLabelValues("quorum").Set(float64(len(n.quorumChain.Snapshot())))
	metrics.LedgerLength.WithLabelValues("blacklist").Set(float64(len(n.blacklist.Snapshot())))
}

// persistTick snapshots the append-only chains into the durable store, so
// a restart can recover chain state instead of starting from genesis.
func (n *node) persistTick(context.Context) {
	if err := persistSnapshot(n.store, store.BucketQueueEvents, "ordering_chain", n.orderingChain.Snapshot()); err != nil {
		log.WithError(err).Warn("failed to persist ordering chain snapshot")
	}
	if err := persistSnapshot(n.store, store.BucketBlacklistRecords, "blacklist_chain", n.blacklist.Snapshot()); err != nil {
		log.WithError(err).Warn("failed to persist blacklist chain snapshot")
	}
}

func persistSnapshot(s store.Store, bucket, key string, value any) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Put(bucket, key, buf)
}
