package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/corpus-sync/internal/clock"
	"github.com/khryptorgraphics/corpus-sync/internal/conflict"
	appconfig "github.com/khryptorgraphics/corpus-sync/internal/config"
	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/monitor"
	"github.com/khryptorgraphics/corpus-sync/internal/record"
	"github.com/khryptorgraphics/corpus-sync/internal/remote/memremote"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
	"github.com/khryptorgraphics/corpus-sync/internal/store"
	"github.com/khryptorgraphics/corpus-sync/internal/store/memstore"
	"github.com/khryptorgraphics/corpus-sync/internal/syncengine"
	"github.com/khryptorgraphics/corpus-sync/internal/telemetry"
)

// newCore wires one replica's full stack — clock, detector, resolver,
// journal, engine, monitor — from loaded configuration. The local and
// remote stores default to the in-memory reference implementations
// (memstore/memremote) since both are out-of-scope external collaborators
// (§1); a real deployment supplies its own store.LocalStore/remote.Store.
func newCore(cfg appconfig.Config, logger *slog.Logger) (*syncengine.Engine, *monitor.Monitor, store.LocalStore, *resolve.Resolver) {
	site := clock.NewDeviceSiteID()
	clk := clock.NewSystem(site, 0)

	local := memstore.New()
	remoteStore := memremote.New()

	detector := conflict.New(crdt.Config{
		ConflictVersionWindow: cfg.ConflictVersionWindow,
		ConflictTimeWindow:    cfg.ConflictWindowSeconds,
	}, clk.Now)

	resolver := resolve.New(resolve.Config{
		AutoWindow: cfg.AutoResolutionWindow,
		CRDT: crdt.Config{
			ConflictVersionWindow: cfg.ConflictVersionWindow,
			ConflictTimeWindow:    cfg.ConflictWindowSeconds,
		},
		Now: clk.Now,
	})

	ring := journal.NewRing(cfg.JournalRetentionPerRecord)

	engine := syncengine.New(syncengine.FromGlobal(cfg), syncengine.Deps{
		Local:    local,
		Remote:   remoteStore,
		Clock:    clk,
		Detector: detector,
		Resolver: resolver,
		Journal:  ring,
		Metrics:  telemetry.Default(),
		Logger:   logger,
	})

	mon := monitor.New(monitor.Config{
		ActiveInterval:         cfg.ActiveInterval,
		IdleInterval:           cfg.IdleInterval,
		ActivityWindow:         60 * time.Second,
		ConflictDecisionWindow: 60 * time.Second,
		ConflictHistoryWindow:  300 * time.Second,
	}, clk.Now)

	engine.SubscribeConflicts(func(info conflict.Info) { mon.RecordConflict() })

	return engine, mon, local, resolver
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the adaptive sync loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			logger := slog.Default()

			engine, mon, _, _ := newCore(cfg, logger)
			engine.SubscribeProgress(func(p float64) {
				logger.Info("sync progress", "fraction", p)
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mon.Run(ctx, func(ctx context.Context) {
				if err := engine.RunOnce(ctx); err != nil {
					logger.Warn("sync cycle failed", "error", err)
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a yaml config file")
	return cmd
}

func statusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current sync_state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			_, _, local, _ := newCore(cfg, slog.Default())

			var st store.SyncState
			if err := local.Read(cmd.Context(), func(tx store.Tx) error {
				s, err := tx.GetSyncState()
				st = s
				return err
			}); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a yaml config file")
	return cmd
}

// resolveCmd manually resolves one pending conflict, following the exact
// path internal/httpapi.handleResolveConflict uses: resolver.ApplyManual,
// an IncrementForSync version bump, and a tx.JournalAppend in the same
// transaction as the record write (§4.6, §8) — so a CLI resolution is
// indistinguishable in the journal from one made over HTTP.
func resolveCmd() *cobra.Command {
	var configPath, recordID string
	var useRemote bool
	var fields []string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Manually resolve one pending conflict by record id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recordID == "" {
				return fmt.Errorf("--record-id is required")
			}
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			_, _, local, resolver := newCore(cfg, slog.Default())

			fieldChoice := resolve.ChoiceUseLocal
			if useRemote {
				fieldChoice = resolve.ChoiceUseRemote
			}
			decision := resolve.ManualDecision{Choices: make(map[string]resolve.FieldChoice)}
			if len(fields) == 0 {
				fields = record.AllFields
			}
			for _, f := range fields {
				decision.Choices[f] = fieldChoice
			}

			return local.Write(cmd.Context(), func(tx store.Tx) error {
				pc, ok, err := tx.GetPendingConflict(recordID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no pending conflict for record %s", recordID)
				}

				info := conflict.Info{
					RecordID:   pc.RecordID,
					Local:      &pc.LocalSnap,
					Remote:     &pc.RemoteSnap,
					LocalMeta:  pc.LocalMeta,
					RemoteMeta: pc.RemoteMeta,
					DetectedAt: pc.DetectedAt,
				}
				resolved, rerr := resolver.ApplyManual(info, decision)
				if rerr != nil {
					return rerr
				}

				if err := tx.UpsertRecord(resolved.Record); err != nil {
					return err
				}
				if err := tx.UpsertMetadata(resolved.LocalMeta.IncrementForSync(resolved.LocalMeta.DBVersion)); err != nil {
					return err
				}
				if err := tx.DeletePendingConflict(recordID); err != nil {
					return err
				}
				return tx.JournalAppend(journal.Entry{
					ID:            recordID + ":manual",
					RecordID:      recordID,
					Strategy:      resolved.Strategy,
					WinnerSiteID:  resolved.WinnerSiteID,
					LocalVersion:  resolved.LocalMeta.DBVersion,
					RemoteVersion: resolved.RemoteMeta.DBVersion,
					ResolvedAt:    pc.DetectedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a yaml config file")
	cmd.Flags().StringVar(&recordID, "record-id", "", "record id of the pending conflict to resolve")
	cmd.Flags().BoolVar(&useRemote, "use-remote", false, "prefer the remote side's value for the chosen fields (default: local)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to apply the choice to (default: all record fields)")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Bcrypt-hash an operator password for http_admin_password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := appconfig.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	return cmd
}

func journalCmd() *cobra.Command {
	var configPath, recordID string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Tail the resolution journal for one record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recordID == "" {
				return fmt.Errorf("--record-id is required")
			}
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			ring := journal.NewRing(cfg.JournalRetentionPerRecord)
			entries, err := ring.ByRecord(recordID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a yaml config file")
	cmd.Flags().StringVar(&recordID, "record-id", "", "record id whose journal entries to print")
	return cmd
}
