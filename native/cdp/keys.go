package cdp

import "github.com/ethereum/go-ethereum/common"

var (
	assetListKey     = []byte("cdp/asset/list")
	assetPrefix      = []byte("cdp/asset/")
	collateralPrefix = []byte("cdp/collateral/")
	debtPrefix       = []byte("cdp/debt/")
	userIndexKey     = []byte("cdp/users")
	adminKey         = []byte("cdp/admin")
	wethKey          = []byte("cdp/weth")
)

func assetKey(asset common.Address) []byte {
	buf := make([]byte, len(assetPrefix)+common.AddressLength)
	copy(buf, assetPrefix)
	copy(buf[len(assetPrefix):], asset.Bytes())
	return buf
}

func collateralKey(user, asset common.Address) []byte {
	buf := make([]byte, 0, len(collateralPrefix)+2*common.AddressLength+1)
	buf = append(buf, collateralPrefix...)
	buf = append(buf, user.Bytes()...)
	buf = append(buf, '/')
	buf = append(buf, asset.Bytes()...)
	return buf
}

func debtKey(user common.Address) []byte {
	buf := make([]byte, len(debtPrefix)+common.AddressLength)
	copy(buf, debtPrefix)
	copy(buf[len(debtPrefix):], user.Bytes())
	return buf
}
