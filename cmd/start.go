package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekiva-dev/ember/config"
	"github.com/ekiva-dev/ember/gossip"
	"github.com/ekiva-dev/ember/net"
	"github.com/ekiva-dev/ember/runloop"
	"github.com/ekiva-dev/ember/waitingroom"
)

// startCmd runs the node: transport host, gossip membership and the
// run-loop's timers.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		host, err := net.New(ctx, cfg)
		if err != nil {
			return err
		}

		membership := gossip.New(gossip.PeerInfo{
			ID:    host.ID(),
			Addrs: host.Addrs(),
		}, gossip.Params{
			MaxActive:         cfg.Membership.ActiveViewSize,
			MaxPassive:        cfg.Membership.PassiveViewSize,
			ARWL:              cfg.Membership.ARWL,
			PRWL:              cfg.Membership.PRWL,
			ShuffleSampleSize: cfg.Membership.PassiveViewSize / 3,
			ShuffleInterval:   time.Duration(cfg.Membership.ShuffleInterval) * time.Second,
			PromoteInterval:   10 * time.Second,
		}, cfg.G().Log.Module("gossip"))

		wr := waitingroom.New(waitingroom.Config{
			MaxQueries: cfg.WaitingRoom.MaxQueries,
			MaxClones:  cfg.WaitingRoom.MaxClones,
			Delta:      5 * time.Second,
		})
		loop := runloop.New(wr, cfg.G().Log.Module("runloop"))

		var addrs []string
		for _, addr := range host.Addrs() {
			addrs = append(addrs, addr.String())
		}
		interpret(loop.Step(runloop.EndpointUp{ListenAddrs: addrs}))

		shuffle := time.NewTicker(time.Duration(cfg.Membership.ShuffleInterval) * time.Second)
		promote := time.NewTicker(10 * time.Second)
		stats := time.NewTicker(5 * time.Second)
		request := time.NewTicker(time.Second)
		announce := time.NewTicker(30 * time.Second)
		defer func() {
			shuffle.Stop()
			promote.Stop()
			stats.Stop()
			request.Stop()
			announce.Stop()
		}()

		log.Info("Node started", "addr", host.FullAddr())

		itr := config.GetInterrupt()
		for {
			select {
			case <-*itr:
				interpret(loop.Step(runloop.EndpointDown{}))
				return nil
			case <-shuffle.C:
				interpretTicks(membership.ShuffleTick())
			case <-promote.C:
				interpretTicks(membership.PromoteTick())
			case <-stats.C:
				var connected []string
				for _, info := range membership.Active() {
					connected = append(connected, info.ID.Pretty())
				}
				interpret(loop.Step(runloop.StatsTick{
					ConnectedPeers:   connected,
					MembershipActive: membership.NumActive(),
				}))
			case <-request.C:
				interpret(loop.Step(runloop.RequestTick{Now: time.Now()}))
			case <-announce.C:
				interpret(loop.Step(runloop.AnnounceTick{}))
			}
		}
	},
}

// interpret executes run-loop commands. Replication commands require an
// injected transport fetcher; until a wire client is connected they are
// surfaced in the log.
func interpret(commands []runloop.Command) {
	for _, command := range commands {
		switch c := command.(type) {
		case runloop.CmdAnnounce:
			log.Debug("Announcing updated refs")
		case runloop.CmdInclude:
			log.Info("Including urn", "urn", c.Urn.String())
		case runloop.CmdQuery:
			log.Info("Querying network", "urn", c.Urn.String())
		case runloop.CmdClone:
			log.Info("Clone requested", "urn", c.Urn.String(), "peer", c.Peer)
		case runloop.CmdRequestTimedOut:
			log.Warn("Request timed out", "urn", c.Urn.String(), "queries", c.Attempts.Queries)
		}
	}
}

// interpretTicks executes membership plan ticks that do not require the
// wire protocol.
func interpretTicks(ticks []gossip.Tick) {
	for _, tick := range ticks {
		switch t := tick.(type) {
		case gossip.Connect:
			log.Debug("Connect requested", "peer", t.To.ID.Pretty())
		case gossip.Demote:
			log.Debug("Demoting peer", "peer", t.Peer.Pretty())
		case gossip.Forget:
			log.Debug("Forgetting peer", "peer", t.Peer.Pretty())
		}
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
}
