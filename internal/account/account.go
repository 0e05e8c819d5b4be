// Package account implements account-id normalization and equality used by
// the store, the sync engine, and the balance engine.
package account

import (
	"encoding/hex"
	"strings"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
)

// Normalize renders a raw Account into its canonical string form: the bare
// owner if the subaccount is absent, empty, or all-zero, otherwise
// "<owner>:0x<hex>".
func Normalize(a model.Account) string {
	if isDefaultSubaccountBytes(a.Subaccount) {
		return a.Owner
	}
	return a.Owner + ":0x" + hex.EncodeToString(a.Subaccount)
}

// NormalizeString re-normalizes an already-stringified account id, collapsing
// an explicit all-zero subaccount suffix down to the bare owner. Used when
// an id arrives pre-formatted (e.g. from a spender field serialized earlier).
func NormalizeString(account string) string {
	owner, sub, hasSub := splitAccount(account)
	if !hasSub || isDefaultSubaccountHex(sub) {
		return owner
	}
	return account
}

// Match reports whether two normalized (or raw) account strings denote the
// same logical account: equal verbatim, or equal owners where any missing
// subaccount is treated as the all-zero default.
func Match(a, b string) bool {
	if a == b {
		return true
	}
	ownerA, subA, hasSubA := splitAccount(a)
	ownerB, subB, hasSubB := splitAccount(b)
	if ownerA != ownerB {
		return false
	}
	switch {
	case !hasSubA && !hasSubB:
		return true
	case hasSubA && !hasSubB:
		return isDefaultSubaccountHex(subA)
	case !hasSubA && hasSubB:
		return isDefaultSubaccountHex(subB)
	default:
		return subA == subB || (isDefaultSubaccountHex(subA) && isDefaultSubaccountHex(subB))
	}
}

// MatchAccount is a convenience wrapper for comparing a raw model.Account
// against an already-normalized string, e.g. when scanning accounts_of(tx).
func MatchAccount(raw model.Account, normalized string) bool {
	return Match(Normalize(raw), normalized)
}

func splitAccount(s string) (owner, subHex string, hasSub bool) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return s, "", false
	}
	sub := s[idx+1:]
	sub = strings.TrimPrefix(sub, "0x")
	return s[:idx], sub, true
}

func isDefaultSubaccountHex(sub string) bool {
	if len(sub) != 64 {
		return false
	}
	for _, c := range sub {
		if c != '0' {
			return false
		}
	}
	return true
}

func isDefaultSubaccountBytes(sub []byte) bool {
	if len(sub) == 0 {
		return true
	}
	for _, b := range sub {
		if b != 0 {
			return false
		}
	}
	return true
}

// AccountsOf returns the set of normalized accounts referenced by tx,
// according to its kind-specific role fields.
func AccountsOf(tx *model.Transaction) []string {
	seen := make(map[string]struct{}, 3)
	add := func(a model.Account) {
		seen[Normalize(a)] = struct{}{}
	}
	switch tx.Kind {
	case model.KindTransfer:
		if tx.Transfer != nil {
			add(tx.Transfer.From)
			add(tx.Transfer.To)
			if tx.Transfer.Spender != nil {
				add(*tx.Transfer.Spender)
			}
		}
	case model.KindMint:
		if tx.Mint != nil {
			add(tx.Mint.To)
		}
	case model.KindBurn:
		if tx.Burn != nil {
			add(tx.Burn.From)
			if tx.Burn.Spender != nil {
				add(*tx.Burn.Spender)
			}
		}
	case model.KindApprove:
		if tx.Approve != nil {
			add(tx.Approve.From)
			add(tx.Approve.Spender)
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	return out
}
