package contract

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "HCS-AuditAgent/internal/errors"
)

// ParseEntityID 解析 shard.realm.num 形式的账本实体 ID。
func ParseEntityID(id string) (shard uint32, realm, num uint64, err error) {
	parts := strings.Split(strings.TrimSpace(id), ".")
	if len(parts) != 3 {
		return 0, 0, 0, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("实体 ID %q 不是 shard.realm.num 形式", id))
	}
	shard64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 shard 失败")
	}
	realm, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 realm 失败")
	}
	num, err = strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 num 失败")
	}
	return uint32(shard64), realm, num, nil
}

// LongZeroAddress 将账本合约 ID 直接位打包成 20 字节 EVM 地址：
// 4 字节 shard + 8 字节 realm + 8 字节 num，各自大端序。
// 仅对未绑定独立 EVM 地址的合约有效，镜像节点解析失败时作为回退。
func LongZeroAddress(contractID string) (common.Address, error) {
	shard, realm, num, err := ParseEntityID(contractID)
	if err != nil {
		return common.Address{}, err
	}
	var addr common.Address
	binary.BigEndian.PutUint32(addr[0:4], shard)
	binary.BigEndian.PutUint64(addr[4:12], realm)
	binary.BigEndian.PutUint64(addr[12:20], num)
	return addr, nil
}
