package ledger

import (
	"amm-volume-bot/internal/models"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var dropsPerUnit = decimal.NewFromInt(models.DropsPerUnit)

// issuedAmount 是发行资产在账本 JSON 中的表示
type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// encodeAmount 将数量编码为账本 JSON: 原生资产为 drops 字符串 (向下取整), 发行资产为对象
func encodeAmount(a models.Amount) interface{} {
	if a.Asset.IsNative() {
		return a.Value.Mul(dropsPerUnit).Floor().String()
	}
	return issuedAmount{
		Currency: a.Asset.Currency,
		Issuer:   a.Asset.Issuer,
		Value:    a.Value.String(),
	}
}

// decodeRaw 解析账本 JSON 中的数量, 返回原始单位的值 (原生资产为 drops)
func decodeRaw(raw json.RawMessage) (models.Asset, decimal.Decimal, error) {
	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		v, err := decimal.NewFromString(drops)
		if err != nil {
			return models.Asset{}, decimal.Zero, fmt.Errorf("解析 drops 数量 %q 失败: %v", drops, err)
		}
		return models.NativeAsset(), v, nil
	}

	var issued issuedAmount
	if err := json.Unmarshal(raw, &issued); err != nil {
		return models.Asset{}, decimal.Zero, fmt.Errorf("无法识别的数量格式: %s", string(raw))
	}
	v, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return models.Asset{}, decimal.Zero, fmt.Errorf("解析发行资产数量 %q 失败: %v", issued.Value, err)
	}
	return models.Asset{Currency: issued.Currency, Issuer: issued.Issuer}, v, nil
}

// decodeAmount 解析账本 JSON 中的数量, 原生资产从 drops 转为整单位
func decodeAmount(raw json.RawMessage) (models.Amount, error) {
	asset, v, err := decodeRaw(raw)
	if err != nil {
		return models.Amount{}, err
	}
	if asset.IsNative() {
		v = v.Div(dropsPerUnit)
	}
	return models.Amount{Asset: asset, Value: v}, nil
}

// assetField 是请求中资产的表示 (amm_info 的 asset/asset2 字段)
func assetField(a models.Asset) map[string]string {
	if a.IsNative() {
		return map[string]string{"currency": models.NativeCurrency}
	}
	return map[string]string{"currency": a.Currency, "issuer": a.Issuer}
}

// offerLegs 根据方向返回 (TakerGets, TakerPays)。TakerGets 是挂单方付出的资产
func offerLegs(intent models.OfferIntent) (gets, pays models.Amount) {
	if intent.Side == models.Buy {
		return intent.Quote, intent.Base
	}
	return intent.Base, intent.Quote
}

// matchReserves 将 amm_info 返回的两个储备按交易对排列为 (基础, 计价)
func matchReserves(pair models.Pair, assetA models.Asset, valueA decimal.Decimal, assetB models.Asset, valueB decimal.Decimal) (*models.PoolReserves, error) {
	reserves := &models.PoolReserves{Base: pair.Base, Quote: pair.Quote}
	switch {
	case assetA.Equal(pair.Base) && assetB.Equal(pair.Quote):
		reserves.BaseReserve, reserves.QuoteReserve = valueA, valueB
	case assetB.Equal(pair.Base) && assetA.Equal(pair.Quote):
		reserves.BaseReserve, reserves.QuoteReserve = valueB, valueA
	default:
		return nil, fmt.Errorf("AMM 池资产 (%s, %s) 与交易对 %s 不匹配", assetA, assetB, pair)
	}
	return reserves, nil
}

// offerSide 根据挂单的 TakerGets 判断方向: 付出基础资产即为卖单
func offerSide(pair models.Pair, gets, pays models.Amount) (models.Side, decimal.Decimal, bool) {
	switch {
	case gets.Asset.Equal(pair.Base) && pays.Asset.Equal(pair.Quote):
		return models.Sell, gets.Value, true
	case pays.Asset.Equal(pair.Base) && gets.Asset.Equal(pair.Quote):
		return models.Buy, pays.Value, true
	}
	return "", decimal.Zero, false
}
