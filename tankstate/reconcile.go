package tankstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"greasetrack/projection"
	"greasetrack/store"
)

const reconcileWorkers = 4

// Reconcile replays each tank's full history and compares the result with
// the cached tank row and the latest index. Every disagreement is resynced
// to the ledger, recorded, and returned as a Warning.
//
// Each tank is checked in its own transaction holding the tank's index and
// snapshot rows, so a movement committed concurrently is either fully visible
// to the check or waits for it. The index is repaired with a compare-and-swap
// against the entry read in that transaction; a tank whose index moved anyway
// is skipped, as the movement that moved it is newer than anything the
// replay saw.
func (m *Manager) Reconcile(ctx context.Context, actor string) ([]Warning, error) {
	tanks, err := m.src.ListTanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list tanks: %w", err)
	}

	var mu sync.Mutex
	var warnings []Warning
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for _, tank := range tanks {
		tank := tank
		g.Go(func() error {
			w, err := m.reconcileTank(gctx, tank.ID, actor)
			if err != nil {
				return err
			}
			if len(w) > 0 {
				mu.Lock()
				warnings = append(warnings, w...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return warnings, fmt.Errorf("reconcile: %w", err)
	}

	if len(warnings) > 0 {
		for _, w := range warnings {
			m.log.Warn("tankstate: reconciled", zap.Int64("tank_id", w.TankID), zap.String("kind", string(w.Kind)),
				zap.String("cached", w.Cached), zap.String("ledger", w.Ledger))
		}
		if _, err := m.Rebuild(ctx); err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

func (m *Manager) reconcileTank(ctx context.Context, tankID int64, actor string) ([]Warning, error) {
	var out []Warning
	err := m.src.InTx(ctx, func(tx *store.Tx) error {
		tank, err := tx.LockTank(ctx, tankID)
		if err != nil {
			return fmt.Errorf("lock tank %d: %w", tankID, err)
		}
		history, err := tx.ListMovementsForTank(ctx, tank.ID)
		if err != nil {
			return fmt.Errorf("history of tank %d: %w", tank.ID, err)
		}
		latest := projection.Latest(history)
		if latest == nil {
			// Never moved: the tank row is the baseline, nothing to compare.
			return nil
		}
		idx, err := tx.LatestMovement(ctx, tank.ID)
		if err != nil {
			return fmt.Errorf("index of tank %d: %w", tank.ID, err)
		}

		want := projection.Resolve(*tank, latest)
		if !tank.Qty.Equal(want.Qty) || tank.Status != want.Status {
			w := Warning{TankID: tank.ID, Serial: tank.Serial, Kind: WarnSnapshot,
				Cached: snapshotValue(tank.Qty.String(), tank.Status), Ledger: snapshotValue(want.Qty.String(), want.Status)}
			if err := tx.UpdateTankSnapshot(ctx, tank.ID, want.Qty, want.Status); err != nil {
				return fmt.Errorf("resync snapshot of tank %d: %w", tank.ID, err)
			}
			if err := record(ctx, tx, w, actor); err != nil {
				return err
			}
			out = append(out, w)
		}

		if idx == nil || idx.ID != latest.ID {
			w := Warning{TankID: tank.ID, Serial: tank.Serial, Kind: WarnIndex, Ledger: fmt.Sprintf("movement %d", latest.ID)}
			var prevID *int64
			if idx != nil {
				w.Cached = fmt.Sprintf("movement %d", idx.ID)
				prevID = &idx.ID
			}
			if err := tx.RepairLatest(ctx, latest, prevID); err != nil {
				return fmt.Errorf("repair index of tank %d: %w", tank.ID, err)
			}
			if err := record(ctx, tx, w, actor); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	if errors.Is(err, store.ErrStaleLatest) {
		m.log.Debug("tankstate: index moved during reconcile, skipped", zap.Int64("tank_id", tankID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func record(ctx context.Context, tx *store.Tx, w Warning, actor string) error {
	r := &store.Reconciliation{TankID: w.TankID, Kind: string(w.Kind), CachedValue: w.Cached, LedgerValue: w.Ledger, Actor: actor}
	if err := tx.CreateReconciliation(ctx, r); err != nil {
		return fmt.Errorf("record reconciliation of tank %d: %w", w.TankID, err)
	}
	return nil
}

func snapshotValue(qty string, status store.Status) string {
	return qty + " " + string(status)
}
