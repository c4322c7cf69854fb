package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/internal/protocol"
)

const defaultFetchTimeout = 30 * time.Second

// MirrorConfig 描述通过镜像节点与源码验证服务抓取合约源码的参数。
type MirrorConfig struct {
	// MirrorBaseURL 是镜像节点 REST API 地址，用于把合约 ID 解析为
	// EVM 地址。
	MirrorBaseURL string
	// SourceBaseURL 是已验证源码服务地址。
	SourceBaseURL string
	Timeout       time.Duration
}

// MirrorFetcher 先向镜像节点解析合约的 EVM 地址（解析失败时回退到
// 直接位打包），再向验证服务抓取该地址的全部源码文件。
type MirrorFetcher struct {
	mirrorBaseURL string
	sourceBaseURL string
	httpClient    *http.Client
}

// NewMirrorFetcher 创建镜像抓取器。
func NewMirrorFetcher(cfg MirrorConfig) (*MirrorFetcher, error) {
	if strings.TrimSpace(cfg.SourceBaseURL) == "" {
		return nil, errors.New("源码服务地址不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &MirrorFetcher{
		mirrorBaseURL: strings.TrimRight(strings.TrimSpace(cfg.MirrorBaseURL), "/"),
		sourceBaseURL: strings.TrimRight(strings.TrimSpace(cfg.SourceBaseURL), "/"),
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

// Fetch 抓取合约源码。contractID 必须是 0.0.<digits> 形式。
func (f *MirrorFetcher) Fetch(ctx context.Context, contractID string) (*FileSet, error) {
	if !protocol.ValidContractID(contractID) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("Invalid contractId format: %q, expected 0.0.<digits>", contractID))
	}

	address, err := f.resolveAddress(ctx, contractID)
	if err != nil {
		return nil, err
	}

	files, err := f.fetchSource(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("合约 %s (%s) 没有已验证源码", contractID, address.Hex()))
	}
	return &FileSet{
		Files:        files,
		MainFileName: SelectMainFile(files),
	}, nil
}

// resolveAddress 询问镜像节点获取合约的 EVM 地址；镜像不可用或
// 未返回地址时回退到 long-zero 位打包。
func (f *MirrorFetcher) resolveAddress(ctx context.Context, contractID string) (common.Address, error) {
	if f.mirrorBaseURL != "" {
		endpoint := fmt.Sprintf("%s/api/v1/contracts/%s", f.mirrorBaseURL, contractID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return common.Address{}, xerrors.Wrap(xerrors.CodeCollaborator, err, "构建镜像节点请求失败")
		}
		resp, err := f.httpClient.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var decoded struct {
					EVMAddress string `json:"evm_address"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
					trimmed := strings.TrimSpace(decoded.EVMAddress)
					if trimmed != "" && common.IsHexAddress(trimmed) {
						return common.HexToAddress(trimmed), nil
					}
				}
			}
		}
	}
	// 回退：直接位打包。
	return LongZeroAddress(contractID)
}

// fetchSource 从验证服务抓取指定地址的源码文件列表。
func (f *MirrorFetcher) fetchSource(ctx context.Context, address common.Address) ([]SourceFile, error) {
	endpoint := fmt.Sprintf("%s/files/any/%s", f.sourceBaseURL, address.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaborator, err, "构建源码服务请求失败")
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaborator, err, "请求源码服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("源码服务未收录地址 %s", address.Hex()))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeCollaborator,
			fmt.Sprintf("源码服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		Files []struct {
			Name    string `json:"name"`
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCollaborator, err, "解析源码服务响应失败")
	}

	files := make([]SourceFile, 0, len(decoded.Files))
	for _, f := range decoded.Files {
		path := f.Path
		if path == "" {
			path = f.Name
		}
		if path == "" {
			continue
		}
		files = append(files, SourceFile{Path: path, Content: f.Content})
	}
	return files, nil
}

var _ Fetcher = (*MirrorFetcher)(nil)
