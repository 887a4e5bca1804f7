package domain

// VoucherKind says whether a voucher authorizes a payout or confirms a
// completed withdrawal.
type VoucherKind string

const (
	VoucherPayout  VoucherKind = "payout"
	VoucherReceipt VoucherKind = "receipt"
)

// Voucher is a signed statement that a participant may withdraw (payout)
// or has withdrawn (receipt) Amount from a market. Seq is the journal
// sequence of the event it attests to.
type Voucher struct {
	Kind        VoucherKind `json:"kind"`
	MarketID    string      `json:"market_id"`
	Participant string      `json:"participant"`
	Amount      int64       `json:"amount"`
	Seq         int64       `json:"seq"`
	Signer      string      `json:"signer"`
	Signature   string      `json:"signature"`
}

// VoucherSigner signs and verifies vouchers.
type VoucherSigner interface {
	Sign(v Voucher) (Voucher, error)
	Verify(v Voucher) (bool, error)
}
