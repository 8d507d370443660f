package preflight

import (
	"fmt"
	"strings"
	"time"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// tifMetaKeys are the meta keys callers use for time-in-force, most
// specific first.
var tifMetaKeys = []string{"tif", "time_in_force", "order_type_tif", "tif_type"}

// ExtractTIF pulls a ROD/IOC/FOK time-in-force from meta, if present.
func ExtractTIF(meta map[string]any) string {
	for _, k := range tifMetaKeys {
		if v, ok := meta[k]; ok && v != nil {
			return strings.ToUpper(payload.String(v))
		}
	}
	return ""
}

// Guard is the single pre-trade hard-gate facade over exchange constraints:
// broker TIF rules first, then the TAIFEX preflight. On an MWP anchor miss
// it enriches the verdict with a suggested anchor from the best-of-book in
// meta (never auto-mutating the intent).
func Guard(req Request, now time.Time) verdict.Verdict {
	tif := ExtractTIF(req.Meta)
	ot := NormalizeOrderType(req.OrderType)
	if tif != "" && (ot == "MARKET" || ot == "MWP") && tif != "IOC" {
		return verdict.Fail(CodeTIFUnsupported,
			fmt.Sprintf("broker requires tif=IOC for %s (got tif=%s)", ot, tif),
			map[string]any{
				"tif":  tif,
				"ot":   ot,
				"hint": "use meta.tif='IOC'; MKT/MKP only accept IOC",
			})
	}

	v := Check(req, now)

	if !v.OK && v.Code == CodeMWPNoAnchor {
		details := map[string]any{}
		for k, val := range v.Details {
			details[k] = val
		}
		if sug, srcKey, ok := suggestSameSideAnchor(req.Side, req.Meta); ok {
			details["suggested_meta"] = map[string]any{"best_same_side_limit": sug}
			details["suggested_meta_source"] = srcKey
			details["hint"] = "best_same_side_limit suggested from best-of-book in meta (BUY uses bid, SELL uses ask)"
		} else if _, exists := details["hint"]; !exists {
			details["hint"] = "MWP requires best_same_side_limit; provide meta.bid/best_bid (BUY) or meta.ask/best_ask (SELL)"
		}
		v.Details = details
	}
	return v
}

var (
	anchorBidKeys = []string{"bid", "best_bid", "bid_price", "best_bid_price"}
	anchorAskKeys = []string{"ask", "best_ask", "ask_price", "best_offer", "offer", "offer_price"}
)

// suggestSameSideAnchor derives the MWP conversion anchor from best-of-book
// values in meta: BUY anchors on the bid side, SELL on the ask side.
func suggestSameSideAnchor(side string, meta map[string]any) (float64, string, bool) {
	pick := func(keys []string) (float64, string, bool) {
		for _, k := range keys {
			if v, ok := meta[k]; ok && v != nil {
				if f, ok := payload.Float(v); ok {
					return f, k, true
				}
			}
		}
		return 0, "", false
	}
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "B":
		return pick(anchorBidKeys)
	case "SELL", "S":
		return pick(anchorAskKeys)
	}
	return 0, "", false
}
