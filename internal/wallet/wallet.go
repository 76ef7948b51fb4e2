package wallet

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "KlimaFlow-Chain/internal/errors"
)

// Account 持有进程唯一的签名私钥。私钥不允许离开进程边界，
// 因此这里只暴露签名所需的最小接口。
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAccount 从十六进制私钥构建签名账户。
func NewAccount(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeSigningFailure, "未提供签名私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, "解析签名私钥失败")
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回账户地址。
func (a *Account) Address() common.Address {
	if a == nil {
		return common.Address{}
	}
	return a.address
}

// Key 返回签名私钥，仅供链客户端在进程内签名使用。
func (a *Account) Key() *ecdsa.PrivateKey {
	if a == nil {
		return nil
	}
	return a.key
}

// ExportData 是交给外部钱包服务的启动数据。对本进程而言它是不透明的，
// 只负责原样落盘和读回。
type ExportData struct {
	Address   string          `json:"address"`
	NetworkID string          `json:"network_id"`
	Provider  json.RawMessage `json:"provider,omitempty"`
}

// ReadExport 在启动时读取上一次持久化的钱包导出数据。
// 文件不存在不视为错误。
func ReadExport(path string) (*ExportData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取钱包导出文件失败: %w", err)
	}
	var data ExportData
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("解析钱包导出文件失败: %w", err)
	}
	return &data, nil
}

// WriteExport 将钱包导出数据写入固定路径，供下次启动恢复。
func WriteExport(path string, data ExportData) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("钱包导出路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建钱包数据目录失败: %w", err)
	}
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化钱包导出数据失败: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("写入钱包导出文件失败: %w", err)
	}
	return nil
}
