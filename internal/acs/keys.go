package acs

import "fmt"

// Key layout, the persisted state layout in the ACS:
//
//	inv:{sku}           -> hash{total, reserved}
//	hold:{cart_id}:{sku}-> hash{qty, expires_at, created_at}
//	holds:exp           -> zset, score=expires_at, member={cart_id}:{sku}
//	inv:events          -> stream (name configurable, default "inv:events")

func invKey(sku string) string {
	return fmt.Sprintf("inv:%s", sku)
}

func holdKey(cartID, sku string) string {
	return fmt.Sprintf("hold:%s:%s", cartID, sku)
}

const expIndexKey = "holds:exp"
