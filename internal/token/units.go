package token

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "KlimaFlow-Chain/internal/errors"
)

// Decimals 是 KLIMA 代币的小数位数，展示单位与最小单位相差 10^18。
const Decimals = 18

// ToBaseUnits 将人类可读的十进制金额转换为链上最小单位。
// 转换必须精确：超过 18 位小数或非法输入一律拒绝，绝不舍入。
func ToBaseUnits(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "金额不能为空")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "金额不是合法的十进制数")
	}
	if d.IsNegative() {
		return nil, xerrors.New(xerrors.CodeValidation, "金额不能为负数")
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, xerrors.New(xerrors.CodeValidation, "金额超出 18 位小数精度")
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits 将链上最小单位还原为十进制字符串。与 ToBaseUnits 构成精确往返。
func FromBaseUnits(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -Decimals).String()
}

// ValidateAmount 校验一个写操作金额：必须是合法十进制且严格大于零。
func ValidateAmount(amount string) (*big.Int, error) {
	base, err := ToBaseUnits(amount)
	if err != nil {
		return nil, err
	}
	if base.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "金额必须大于零")
	}
	return base, nil
}
