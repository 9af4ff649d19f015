package handlers

import (
	"context"

	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/lifecycle"
	"parkgate/backend/services/gate-service/internal/scanner"
	"parkgate/backend/services/gate-service/internal/service"
)

// ScanProcessor drives entry and exit from unattended gate readers.
type ScanProcessor struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewScanProcessor returns a processor for the scanner feed.
func NewScanProcessor(coord Coordinator, logger *zap.Logger) *ScanProcessor {
	return &ScanProcessor{coord: coord, logger: logger}
}

// Process implements scanner.Processor.
func (p *ScanProcessor) Process(ctx context.Context, gate scanner.Gate, text string) scanner.Reply {
	ref := service.Reference{Mode: lifecycle.ModeQR, QRText: text}

	var (
		data interface{}
		err  error
	)
	switch gate.Direction {
	case scanner.DirectionEntry:
		data, err = p.coord.Enter(ctx, service.EntryInput{Reference: ref})
	case scanner.DirectionExit:
		data, err = p.coord.Exit(ctx, service.ExitInput{Reference: ref})
	default:
		err = lifecycle.Newf(lifecycle.CodeInvalidRequest, "gate %s has no direction", gate.ID)
	}
	if err != nil {
		return p.failure(gate, err)
	}

	p.logger.Info("gate scan accepted", zap.String("gate_id", gate.ID), zap.String("direction", string(gate.Direction)))
	return scanner.Reply{Success: true, Data: data}
}

func (p *ScanProcessor) failure(gate scanner.Gate, err error) scanner.Reply {
	le, ok := lifecycle.As(err)
	if !ok {
		p.logger.Error("gate scan failed", zap.String("gate_id", gate.ID), zap.Error(err))
		return scanner.Reply{Code: string(lifecycle.CodeServiceUnavailable), Message: "internal error"}
	}
	p.logger.Info("gate scan refused",
		zap.String("gate_id", gate.ID),
		zap.String("code", string(le.Code)),
		zap.Error(le.Cause()),
	)
	reply := scanner.Reply{Code: string(le.Code), Message: le.Message}
	if le.Quote != nil {
		reply.Data = le.Quote
	}
	return reply
}
