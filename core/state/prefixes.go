package state

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	tokenPrefix     = []byte("token:")
	tokenListKey    = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	supplyPrefix    = []byte("supply:")
	nativePrefix    = []byte("native:")
)

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func tokenMetadataKey(token common.Address) []byte {
	return joinKey(tokenPrefix, token.Bytes())
}

func balanceKey(token, holder common.Address) []byte {
	return joinKey(balancePrefix, token.Bytes(), holder.Bytes())
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return joinKey(allowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes())
}

func supplyKey(token common.Address) []byte {
	return joinKey(supplyPrefix, token.Bytes())
}

func nativeBalanceKey(holder common.Address) []byte {
	return joinKey(nativePrefix, holder.Bytes())
}
