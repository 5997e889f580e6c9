package ws

import (
	"context"

	"github.com/chisme-chat/chisme/types"
	"github.com/chisme-chat/chisme/voice"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Sweeper periodically reconciles the voice registry against the ephemeral
// store: participants whose TTL mirror expired are announced as having left,
// so a crashed client's ghost does not linger in everyone's participant
// list. It also broadcasts per-room occupancy info.
type Sweeper struct {
	registry *Registry
	voice    *voice.Registry
	logger   hclog.Logger
	runner   *cron.Cron
}

func NewSweeper(registry *Registry, voiceReg *voice.Registry, spec string, logger hclog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		registry: registry,
		voice:    voiceReg,
		logger:   logger,
		runner:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.runner.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.runner.Start()
}

func (s *Sweeper) Stop() {
	s.runner.Stop()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	for _, expired := range s.voice.Sweep(ctx) {
		s.registry.Broadcast(expired.Room, types.NewVoiceUserLeftEvent(expired.Room, expired.UserId), 0)
	}
	for _, room := range s.registry.Rooms() {
		s.registry.Broadcast(room, types.NewRoomInfoEvent(room, s.registry.Count(room)), 0)
	}
}
