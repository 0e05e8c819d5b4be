package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/model"
)

func TestNormalize(t *testing.T) {
	zero32 := make([]byte, 32)
	cases := []struct {
		name string
		acc  model.Account
		want string
	}{
		{"no subaccount", model.Account{Owner: "abc"}, "abc"},
		{"empty subaccount", model.Account{Owner: "abc", Subaccount: []byte{}}, "abc"},
		{"all-zero subaccount", model.Account{Owner: "abc", Subaccount: zero32}, "abc"},
		{"nonzero subaccount", model.Account{Owner: "abc", Subaccount: []byte{1}}, "abc:0x01"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, Normalize(c.acc))
		})
	}
}

func TestMatch(t *testing.T) {
	zeroHex := "0x" + repeat("0", 64)
	require.True(t, Match("X", "X"))
	require.True(t, Match("X", "X:"+zeroHex))
	require.True(t, Match("X:"+zeroHex, "X"))
	require.False(t, Match("X", "Y"))
	require.False(t, Match("X:0x01", "X"))
	require.True(t, Match("X:0x01", "X:0x01"))
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s[0])
	}
	return string(out)
}

func TestAccountsOf(t *testing.T) {
	spender := model.Account{Owner: "S"}
	tx := &model.Transaction{
		Kind: model.KindTransfer,
		Transfer: &model.Transfer{
			From:    model.Account{Owner: "A"},
			To:      model.Account{Owner: "B"},
			Amount:  "10",
			Spender: &spender,
		},
	}
	accs := AccountsOf(tx)
	require.ElementsMatch(t, []string{"A", "B", "S"}, accs)
}
