package entsync

import (
	"entsync/pkg/clientsync"
	"entsync/pkg/clock"
	"entsync/pkg/config"
	"entsync/pkg/eslog"
	"entsync/pkg/memnet"
	"entsync/pkg/serversync"
)

type Options struct {
	Config config.Config
	Logger eslog.Logger
	Clock  clock.Clock

	// Advance is the server-driven simulation hook (environment, AI).
	Advance func(elapsedMs int64)
}

// LocalWorld is a fully wired in-memory deployment: one server, any
// number of clients, all sharing a clock and the lagged network.
type LocalWorld struct {
	Clock   clock.Clock
	Network *memnet.Network
	Server  *serversync.Server

	cfg     config.Config
	log     eslog.Logger
	clients map[string]*clientsync.Client
}

// NewLocalWorld builds a server on the in-memory network. Clients join
// through AddClient.
func NewLocalWorld(opts Options) *LocalWorld {
	opts.Config.Normalize()
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}

	net := memnet.New(opts.Clock)
	server := serversync.New(serversync.Options{
		Clock:           opts.Clock,
		Logger:          opts.Logger,
		Network:         net,
		UpdateRateHz:    opts.Config.ServerHz,
		HistoryWindowMs: opts.Config.HistoryWindowMs,
		Advance:         opts.Advance,
	})

	return &LocalWorld{
		Clock:   opts.Clock,
		Network: net,
		Server:  server,
		cfg:     opts.Config,
		log:     opts.Logger,
		clients: make(map[string]*clientsync.Client),
	}
}

// AddClient connects a client slot on the network and builds its
// syncer. The configured LagMs applies to both directions of the new
// pair.
func (w *LocalWorld) AddClient(
	clientID string,
	handler clientsync.NewEntityHandler,
	inputs clientsync.InputCollectionStrategy,
) *clientsync.Client {
	port := w.Network.Connect(clientID)
	if w.cfg.LagMs > 0 {
		w.Network.SetLag(clientID, w.cfg.LagMs)
	}

	c := clientsync.New(clientsync.Options{
		Clock:              w.Clock,
		Logger:             w.log,
		Network:            port,
		Handler:            handler,
		Inputs:             inputs,
		ServerUpdateRateHz: w.cfg.ServerHz,
		UpdateRateHz:       w.cfg.ClientHz,
	})
	w.clients[clientID] = c
	return c
}

func (w *LocalWorld) Client(clientID string) (*clientsync.Client, bool) {
	c, ok := w.clients[clientID]
	return c, ok
}

// Start spins up the server and every client on their own intervals.
func (w *LocalWorld) Start() {
	w.Server.Start()
	for _, c := range w.clients {
		c.Start()
	}
}

// Stop halts every endpoint at its next tick boundary.
func (w *LocalWorld) Stop() {
	for _, c := range w.clients {
		c.Stop()
	}
	w.Server.Stop()
}
