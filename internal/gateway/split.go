package gateway

import (
	"context"
	"fmt"

	"github.com/tmflab/tmftrader/internal/oms"
	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/preflight"
	"github.com/tmflab/tmftrader/internal/risk"
	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// runSplitLoop handles the SPLIT action for EXEC_TAIFEX_MKT_QTY_LIMIT: the
// oversized market order becomes children of at most the session cap, each
// re-submitted through the full gate chain. The only permissible cap
// mutation during the loop is tightening from a RISK_QTY_LIMIT reject; any
// other child rejection terminates the split.
func (g *Gateway) runSplitLoop(ctx context.Context, in Intent, pv verdict.Verdict) (Result, error) {
	lim, _ := payload.Float(pv.Details["limit"])
	if lim <= 0 {
		// fall back to documented session caps
		session := payload.String(pv.Details["session_hint"])
		if preflight.NormalizeSessionHint(session) == preflight.SessionAfterHours {
			lim = 5
		} else {
			lim = 10
		}
	}

	parentID := fmt.Sprintf("SPLIT_%s", g.now().Format("2006-01-02T15:04:05.000"))
	remaining := in.Qty
	var children []Result
	index := 0

	for remaining > 0 && index < g.cfg.SplitMaxChildren {
		step := lim
		if remaining < lim {
			step = remaining
		}

		childMeta := map[string]any{}
		for k, v := range in.Meta {
			childMeta[k] = v
		}
		childMeta["split_parent_id"] = parentID
		childMeta["split_index"] = index
		childMeta["split_limit"] = lim

		child, err := g.PlaceOrder(ctx, Intent{
			Symbol:    in.Symbol,
			Side:      in.Side,
			Qty:       step,
			OrderType: in.OrderType,
			Price:     in.Price,
			Meta:      childMeta,
		})
		if err != nil {
			return Result{}, err
		}
		children = append(children, child)
		// every submission counts against the guard, rejected retries included
		index++

		if !child.OK {
			// tighten the cap and retry without consuming remaining
			if child.Risk != nil && child.Risk.Code == risk.CodeQtyLimit {
				if mx, ok := payload.Float(child.Risk.Details["max_qty_per_order"]); ok && mx > 0 && mx < lim {
					lim = mx
					continue
				}
			}
			// any other rejection is fatal for the split
			ev := verdict.Fail(pv.Code, pv.Reason, map[string]any{
				"policy_action":   "SPLIT",
				"limit":           lim,
				"split_parent_id": parentID,
				"child_reject":    child.BrokerOrderID,
			})
			return Result{
				OK:       false,
				Status:   store.StatusRejected,
				Exec:     &ev,
				Children: children,
			}, nil
		}

		remaining -= step
	}

	if remaining > 0 {
		gv := verdict.Fail(CodeSplitLoopGuard,
			"split loop exceeded safety bound; refusing to continue",
			map[string]any{"split_parent_id": parentID, "limit": lim, "remaining": remaining, "children": len(children)})
		res, err := g.reject(ctx, in, nil, &gv, nil, children, rejectFrom{exec: &gv})
		return res, err
	}

	// parent row referencing the children, atomic with nothing else: all
	// child state already committed through their own chains
	childIDs := make([]any, 0, len(children))
	for _, c := range children {
		childIDs = append(childIDs, c.BrokerOrderID)
	}
	parentMeta := map[string]any{}
	for k, v := range in.Meta {
		parentMeta[k] = v
	}
	parentMeta["split_parent_id"] = parentID
	parentMeta["split_limit"] = lim
	parentMeta["split_requested_qty"] = in.Qty
	parentMeta["split_children"] = childIDs

	okCode := CodeOKSplit
	parent, err := g.oms.SubmitOrder(ctx, oms.SubmitRequest{
		Symbol:        in.Symbol,
		Side:          in.Side,
		Qty:           in.Qty,
		OrderType:     in.OrderType,
		Price:         in.Price,
		Meta:          parentMeta,
		Status:        store.StatusSplitSubmitted,
		BrokerOrderID: parentID,
		Verdict:       &okCode,
		Decision:      strPtr("EXEC"),
		Action:        strPtr("SPLIT"),
	})
	if err != nil {
		return Result{}, err
	}

	ev := verdict.Pass(CodeOKSplit,
		fmt.Sprintf("split market order into %d children (limit=%g)", len(children), lim),
		map[string]any{"split_parent_id": parentID, "limit": lim, "children": childIDs})
	g.log.Info().Str("split_parent_id", parentID).Int("children", len(children)).
		Float64("limit", lim).Msg("split submitted")
	return Result{
		OK:            true,
		Status:        store.StatusSplitSubmitted,
		BrokerOrderID: parent.BrokerOrderID,
		Order:         parent,
		Exec:          &ev,
		Children:      children,
	}, nil
}
