// SPDX-License-Identifier: MIT

// Command mt-probe emits a synthetic query/response pair through the
// real emitter, validating queue connectivity and request signing end to
// end. Intended for operators, not production traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/skillsift/matchtrail/internal/config"
	"github.com/skillsift/matchtrail/internal/emitter"
	"github.com/skillsift/matchtrail/internal/events"
	xlog "github.com/skillsift/matchtrail/internal/log"
	"github.com/skillsift/matchtrail/internal/queue"
	"github.com/skillsift/matchtrail/internal/sigv4"
)

var (
	queryFlag = flag.String("query", "Does the candidate have Python experience?", "synthetic query text")
	scoreFlag = flag.Int("score", 95, "synthetic match score")
	delayFlag = flag.Duration("delay", 250*time.Millisecond, "delay between query and response emission")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mt-probe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.ParseString("MT_CONFIG", ""))
	if err != nil {
		return err
	}

	xlog.Configure(xlog.Config{Level: "debug", Service: "mt-probe"})
	logger := xlog.WithComponent("probe")

	signer := sigv4.NewSigner(sigv4.Credentials{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
	}, cfg.Region, "sqs")

	client, err := queue.NewClient(queue.ClientConfig{
		QueueURL:       cfg.QueueURL,
		DeadLetterURL:  cfg.DeadLetterURL,
		Region:         cfg.Region,
		RequestTimeout: cfg.RequestTimeout,
	}, signer, logger)
	if err != nil {
		return err
	}

	em := emitter.New(client, emitter.Config{Timeout: 5 * time.Second}, logger)

	correlationID := uuid.NewString()
	now := time.Now()

	em.Emit(events.QueryEvent{
		CorrelationID: correlationID,
		OccurredAt:    now.UnixMilli(),
		Query:         *queryFlag,
		Metadata:      map[string]any{"source": "mt-probe"},
	})

	time.Sleep(*delayFlag)

	em.Emit(events.ResponseEvent{
		CorrelationID: correlationID,
		OccurredAt:    now.Add(*delayFlag).UnixMilli(),
		MatchType:     events.MatchFull,
		MatchScore:    *scoreFlag,
		Reasoning:     "synthetic probe event",
		MatchCount:    1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := em.Close(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	logger.Info().
		Str(xlog.FieldCorrelationID, correlationID).
		Msg("probe pair emitted")
	return nil
}
