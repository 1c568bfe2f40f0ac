package ledger

import (
	"amm-volume-bot/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10 // Must be less than pongWait
	writeWait         = 10 * time.Second
	defaultPollPeriod = time.Second
	validationTimeout = 30 * time.Second
	feeMultMax        = 1000
)

// LiveLedger 实现了 Ledger 接口，通过唯一的一条 WebSocket 连接与 rippled 交互。
// 签名与序列化交由服务器完成 (submit 的 sign-and-submit 模式), 因此只能连接受信任的节点。
type LiveLedger struct {
	url        string
	timeout    time.Duration
	pollPeriod time.Duration // 轮询交易验证结果的间隔
	logger     *zap.Logger
	dialer     *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[uint64]chan rpcResponse
	nextID    uint64
	closing   chan struct{}
	writeMu   sync.Mutex
	readersWG sync.WaitGroup
}

// rpcResponse 是 rippled WebSocket 响应的通用结构
type rpcResponse struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
	err          error
}

// NewLiveLedger 创建一个新的 LiveLedger 实例, timeout 为单次请求的超时上限
func NewLiveLedger(url string, timeout time.Duration, logger *zap.Logger) *LiveLedger {
	return &LiveLedger{
		url:        url,
		timeout:    timeout,
		pollPeriod: defaultPollPeriod,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
		pending:    make(map[uint64]chan rpcResponse),
	}
}

// Connect 建立 WebSocket 连接并启动读取和心跳协程。已连接时直接返回
func (l *LiveLedger) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	conn, _, err := l.dialer.DialContext(dialCtx, l.url, nil)
	if err != nil {
		return fmt.Errorf("%w: 连接 %s 失败: %v", models.ErrTransport, l.url, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	l.conn = conn
	l.closing = make(chan struct{})
	l.readersWG.Add(2)
	go l.readLoop(conn)
	go l.pingLoop(conn, l.closing)

	l.logger.Info("已连接到账本节点", zap.String("url", l.url))
	return nil
}

// Disconnect 关闭连接, 所有等待中的请求都会收到传输错误。未连接时为空操作
func (l *LiveLedger) Disconnect() error {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return nil
	}
	l.conn = nil
	close(l.closing)
	l.mu.Unlock()

	l.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	l.writeMu.Unlock()
	err := conn.Close()
	l.readersWG.Wait()

	l.logger.Info("已断开与账本节点的连接", zap.String("url", l.url))
	return err
}

// IsConnected 返回连接是否存活
func (l *LiveLedger) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// readLoop 读取所有消息并按 id 分发给等待的请求, 连接损坏时让所有请求失败
func (l *LiveLedger) readLoop(conn *websocket.Conn) {
	defer l.readersWG.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			l.failPending(conn, err)
			_ = conn.Close()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			l.logger.Warn("解析账本消息失败", zap.Error(err))
			continue
		}
		if resp.Type != "" && resp.Type != "response" {
			continue // 订阅推送, 不关心
		}

		l.mu.Lock()
		ch, ok := l.pending[resp.ID]
		delete(l.pending, resp.ID)
		l.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// failPending 连接断开后清理状态, 之后 IsConnected 返回 false, 调用方可以重新 Connect
func (l *LiveLedger) failPending(conn *websocket.Conn, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == conn {
		l.logger.Warn("账本连接已断开", zap.Error(cause))
		l.conn = nil
		close(l.closing)
	}
	for id, ch := range l.pending {
		ch <- rpcResponse{err: cause}
		delete(l.pending, id)
	}
}

// pingLoop 定期发送 Ping 以维持连接
func (l *LiveLedger) pingLoop(conn *websocket.Conn, closing <-chan struct{}) {
	defer l.readersWG.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			l.writeMu.Unlock()
			if err != nil {
				l.logger.Warn("发送Ping失败", zap.Error(err))
				return
			}
		}
	}
}

// request 是一个通用的请求处理函数, 发送命令并等待对应 id 的响应
func (l *LiveLedger) request(ctx context.Context, command string, params map[string]interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", models.ErrTransport, models.ErrNotConnected)
	}
	l.nextID++
	id := l.nextID
	ch := make(chan rpcResponse, 1)
	l.pending[id] = ch
	l.mu.Unlock()

	body := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["id"] = id
	body["command"] = command

	l.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(body)
	l.writeMu.Unlock()
	if err != nil {
		l.forget(id)
		return nil, fmt.Errorf("%w: 发送 %s 请求失败: %v", models.ErrTransport, command, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, fmt.Errorf("%w: %s 请求中断: %v", models.ErrTransport, command, resp.err)
		}
		if resp.Status == "error" || resp.Error != "" {
			return nil, &models.LedgerError{Code: resp.Error, Message: resp.ErrorMessage}
		}
		return resp.Result, nil
	case <-ctx.Done():
		l.forget(id)
		return nil, fmt.Errorf("%w: %s 请求超时: %v", models.ErrTransport, command, ctx.Err())
	}
}

func (l *LiveLedger) forget(id uint64) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// --- Ledger 接口实现 ---

// NativeBalance 获取账户的原生资产余额 (整单位)
func (l *LiveLedger) NativeBalance(ctx context.Context, address string) (float64, error) {
	data, err := l.request(ctx, "account_info", map[string]interface{}{
		"account":      address,
		"ledger_index": "validated",
	})
	if err != nil {
		return 0, err
	}

	var result struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("解析账户信息失败: %v", err)
	}
	drops, err := decimal.NewFromString(result.AccountData.Balance)
	if err != nil {
		return 0, fmt.Errorf("解析账户余额 %q 失败: %v", result.AccountData.Balance, err)
	}
	return drops.Div(dropsPerUnit).InexactFloat64(), nil
}

// PoolReserves 查询交易对对应 AMM 池的储备, 池不存在时返回 ErrPoolNotFound
func (l *LiveLedger) PoolReserves(ctx context.Context, pair models.Pair) (*models.PoolReserves, error) {
	data, err := l.request(ctx, "amm_info", map[string]interface{}{
		"asset":        assetField(pair.Base),
		"asset2":       assetField(pair.Quote),
		"ledger_index": "validated",
	})
	if err != nil {
		var ledgerErr *models.LedgerError
		if errors.As(err, &ledgerErr) && ledgerErr.Code == errActNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrPoolNotFound, pair)
		}
		return nil, err
	}

	var result struct {
		AMM *struct {
			Amount  json.RawMessage `json:"amount"`
			Amount2 json.RawMessage `json:"amount2"`
		} `json:"amm"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析 AMM 信息失败: %v", err)
	}
	if result.AMM == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrPoolNotFound, pair)
	}

	assetA, valueA, err := decodeRaw(result.AMM.Amount)
	if err != nil {
		return nil, err
	}
	assetB, valueB, err := decodeRaw(result.AMM.Amount2)
	if err != nil {
		return nil, err
	}
	reserves, err := matchReserves(pair, assetA, valueA, assetB, valueB)
	if err != nil {
		return nil, err
	}
	reserves.RetrievedAt = time.Now()
	return reserves, nil
}

// OpenOffers 获取账户在该交易对上的所有挂单 (自动翻页)
func (l *LiveLedger) OpenOffers(ctx context.Context, address string, pair models.Pair) ([]models.OpenOffer, error) {
	offers := make([]models.OpenOffer, 0)
	var marker json.RawMessage
	for {
		params := map[string]interface{}{
			"account":      address,
			"ledger_index": "validated",
		}
		if marker != nil {
			params["marker"] = marker
		}
		data, err := l.request(ctx, "account_offers", params)
		if err != nil {
			return nil, err
		}

		var result struct {
			Offers []struct {
				Seq       uint32          `json:"seq"`
				Flags     uint32          `json:"flags"`
				TakerGets json.RawMessage `json:"taker_gets"`
				TakerPays json.RawMessage `json:"taker_pays"`
			} `json:"offers"`
			Marker json.RawMessage `json:"marker"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("解析挂单列表失败: %v", err)
		}

		for _, o := range result.Offers {
			gets, err := decodeAmount(o.TakerGets)
			if err != nil {
				return nil, err
			}
			pays, err := decodeAmount(o.TakerPays)
			if err != nil {
				return nil, err
			}
			side, remaining, ok := offerSide(pair, gets, pays)
			if !ok {
				continue // 其他交易对的挂单
			}
			offers = append(offers, models.OpenOffer{
				Sequence:  o.Seq,
				Account:   address,
				Side:      side,
				Remaining: remaining,
			})
		}

		if len(result.Marker) == 0 || string(result.Marker) == "null" {
			return offers, nil
		}
		marker = result.Marker
	}
}

// SubmitOffer 提交 OfferCreate 交易并等待其被验证
func (l *LiveLedger) SubmitOffer(ctx context.Context, wallet models.WalletCredential, intent models.OfferIntent, flag models.ExecutionFlag) (models.Receipt, error) {
	gets, pays := offerLegs(intent)
	tx := map[string]interface{}{
		"TransactionType": "OfferCreate",
		"Account":         wallet.Address,
		"TakerGets":       encodeAmount(gets),
		"TakerPays":       encodeAmount(pays),
	}
	if flags := offerFlags(flag); flags != 0 {
		tx["Flags"] = flags
	}
	return l.submitAndWait(ctx, wallet, tx)
}

// SubmitCancel 提交 OfferCancel 交易并等待其被验证
func (l *LiveLedger) SubmitCancel(ctx context.Context, wallet models.WalletCredential, sequence uint32) (models.Receipt, error) {
	tx := map[string]interface{}{
		"TransactionType": "OfferCancel",
		"Account":         wallet.Address,
		"OfferSequence":   sequence,
	}
	return l.submitAndWait(ctx, wallet, tx)
}

// submitAndWait 由服务器自动填充、签名并提交交易; 初步结果为成功或排队时等待最终结果
func (l *LiveLedger) submitAndWait(ctx context.Context, wallet models.WalletCredential, tx map[string]interface{}) (models.Receipt, error) {
	data, err := l.request(ctx, "submit", map[string]interface{}{
		"secret":       wallet.Seed,
		"tx_json":      tx,
		"fee_mult_max": feeMultMax,
	})
	if err != nil {
		return models.Receipt{}, err
	}

	var result struct {
		EngineResult string `json:"engine_result"`
		TxJSON       struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.Receipt{}, fmt.Errorf("解析提交结果失败: %v", err)
	}

	receipt := models.Receipt{Code: result.EngineResult, Hash: result.TxJSON.Hash}
	if receipt.Code != ResultSuccess && receipt.Code != ResultQueued {
		return receipt, nil
	}
	return l.waitValidated(ctx, receipt)
}

// waitValidated 轮询 tx 命令直到交易进入已验证账本, 返回最终结果码
func (l *LiveLedger) waitValidated(ctx context.Context, receipt models.Receipt) (models.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, validationTimeout)
	defer cancel()
	ticker := time.NewTicker(l.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return receipt, fmt.Errorf("%w: 等待交易 %s 验证超时", models.ErrTransport, receipt.Hash)
		case <-ticker.C:
		}

		data, err := l.request(ctx, "tx", map[string]interface{}{"transaction": receipt.Hash})
		if err != nil {
			var ledgerErr *models.LedgerError
			if errors.As(err, &ledgerErr) && ledgerErr.Code == "txnNotFound" {
				continue
			}
			return receipt, err
		}

		var result struct {
			Validated bool `json:"validated"`
			Meta      struct {
				TransactionResult string `json:"TransactionResult"`
			} `json:"meta"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return receipt, fmt.Errorf("解析交易结果失败: %v", err)
		}
		if result.Validated {
			receipt.Code = result.Meta.TransactionResult
			return receipt, nil
		}
	}
}

// WalletFromSeed 通过 wallet_propose 从种子派生账户地址
func (l *LiveLedger) WalletFromSeed(ctx context.Context, seed string) (models.WalletCredential, error) {
	data, err := l.request(ctx, "wallet_propose", map[string]interface{}{"seed": seed})
	if err != nil {
		return models.WalletCredential{}, fmt.Errorf("派生钱包地址失败: %w", err)
	}
	var result struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.WalletCredential{}, fmt.Errorf("解析钱包信息失败: %v", err)
	}
	if !models.IsValidAddress(result.AccountID) {
		return models.WalletCredential{}, fmt.Errorf("节点返回了非法地址: %q", result.AccountID)
	}
	return models.WalletCredential{Seed: seed, Address: result.AccountID}, nil
}
