// Package splits groups receipts that jointly represent one real-world
// charge into split families with a stable anchor id.
package splits

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/harborline/tally/internal/model"
	"github.com/harborline/tally/internal/service"
	"github.com/harborline/tally/internal/storage"
)

// Group is one resolved split family.
type Group struct {
	// AnchorID is the minimum member id. It never changes on rerun.
	AnchorID int64
	// MemberIDs holds the family members, ascending, excluding any
	// synthetic parent.
	MemberIDs []int64
	// SyntheticParentID is the redundant totaling receipt whose amount
	// equals the sum of its siblings, zero when absent. It is excluded from
	// the family rather than merged further.
	SyntheticParentID int64
	// Markerless is true when no member carries an explicit split marker;
	// the group's provenance is unverified and it is surfaced as a
	// data-quality exception.
	Markerless bool
}

// Resolver assigns split families on stored receipts.
type Resolver struct {
	storage service.Storage
}

// Options configures one resolver run.
type Options struct {
	Write bool
	Limit int
}

// New creates a resolver backed by the given store.
func New(s service.Storage) *Resolver {
	return &Resolver{storage: s}
}

// Run groups receipts into split families and persists the membership.
// Grouping is a pure function of receipt fields, so rerunning on the same
// input produces the same families with the same anchors.
func (r *Resolver) Run(ctx context.Context, opts Options) (*service.SplitSummary, error) {
	receipts, err := r.storage.GetReceiptsForSplitScan(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}

	groups := BuildGroups(receipts)
	summary := &service.SplitSummary{}

	err = storage.RunInTx(ctx, r.storage, opts.Write, func(tx service.Transaction) error {
		byID := make(map[int64]*model.Receipt, len(receipts))
		for i := range receipts {
			byID[receipts[i].ID] = &receipts[i]
		}

		for _, g := range groups {
			summary.GroupsFormed++
			if g.Markerless {
				summary.Markerless++
				slog.Warn("split group without marker",
					"anchor", g.AnchorID,
					"members", len(g.MemberIDs))
			}

			for _, id := range g.MemberIDs {
				anchor := g.AnchorID
				rcpt := byID[id]
				if rcpt.SplitGroupID != nil && *rcpt.SplitGroupID == anchor &&
					rcpt.IsSplitReceipt && !rcpt.PotentialDuplicate {
					continue // already correct
				}
				if err := tx.UpdateReceiptSplitGroup(ctx, id, &anchor, true, false); err != nil {
					return fmt.Errorf("failed to tag receipt %d: %w", id, err)
				}
				summary.MembersTagged++
			}

			if g.SyntheticParentID != 0 {
				summary.SyntheticParents++
				parent := byID[g.SyntheticParentID]
				if parent.SplitGroupID != nil || !parent.PotentialDuplicate {
					if err := tx.UpdateReceiptSplitGroup(ctx, g.SyntheticParentID, nil, false, true); err != nil {
						return fmt.Errorf("failed to mark synthetic parent %d: %w", g.SyntheticParentID, err)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("split resolver run complete",
		"groups", summary.GroupsFormed,
		"tagged", summary.MembersTagged,
		"markerless", summary.Markerless,
		"synthetic_parents", summary.SyntheticParents,
		"write", opts.Write)

	return summary, nil
}

// BuildGroups computes split families from receipts without touching the
// store. Receipts connect when they share vendor and date, or when one
// carries an explicit "split with #id" marker pointing at the other. Only
// components with at least two members form a group.
func BuildGroups(receipts []model.Receipt) []Group {
	uf := newUnionFind()
	byID := make(map[int64]*model.Receipt, len(receipts))
	for i := range receipts {
		byID[receipts[i].ID] = &receipts[i]
		uf.add(receipts[i].ID)
	}

	// Same vendor and date.
	byVendorDate := make(map[string][]int64)
	for i := range receipts {
		key := receipts[i].Vendor + "|" + receipts[i].Date.Format("2006-01-02")
		byVendorDate[key] = append(byVendorDate[key], receipts[i].ID)
	}
	for _, ids := range byVendorDate {
		for i := 1; i < len(ids); i++ {
			uf.union(ids[0], ids[i])
		}
	}

	// Explicit markers.
	hasMarker := make(map[int64]bool)
	for i := range receipts {
		target, ok := receipts[i].SplitMarker()
		if !ok {
			continue
		}
		hasMarker[receipts[i].ID] = true
		if _, exists := byID[target]; exists {
			uf.union(receipts[i].ID, target)
		}
	}

	components := make(map[int64][]int64)
	for id := range byID {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	var groups []Group
	for _, members := range components {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		g := Group{Markerless: true}
		for _, id := range members {
			if hasMarker[id] {
				g.Markerless = false
			}
		}

		g.SyntheticParentID = findSyntheticParent(members, byID)
		for _, id := range members {
			if id != g.SyntheticParentID {
				g.MemberIDs = append(g.MemberIDs, id)
			}
		}
		if len(g.MemberIDs) < 2 {
			// Dropping the synthetic parent left a singleton; not a family.
			continue
		}
		g.AnchorID = g.MemberIDs[0]
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].AnchorID < groups[j].AnchorID })
	return groups
}

// findSyntheticParent returns the member whose amount equals the sum of all
// other members, preferring the lowest id when several qualify.
func findSyntheticParent(members []int64, byID map[int64]*model.Receipt) int64 {
	total := decimal.Zero
	for _, id := range members {
		total = total.Add(byID[id].GrossAmount)
	}
	for _, id := range members {
		amount := byID[id].GrossAmount
		if amount.Equal(total.Sub(amount)) && !amount.IsZero() {
			return id
		}
	}
	return 0
}

// unionFind is a minimal disjoint-set over receipt ids.
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) add(id int64) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id int64) int64 {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller root wins so component roots are stable across runs.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
