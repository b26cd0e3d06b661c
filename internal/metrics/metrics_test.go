package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegisterPanics は同一レジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

// TestRecordCallback_CountsByResult はコールバック結果がラベル別に集計されることを検証する。
func TestRecordCallback_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCallback("success")
	c.RecordCallback("success")
	c.RecordCallback("invalid_state")

	m := findMetric(t, reg, "crmlink_oauth_callbacks_total", map[string]string{"result": "success"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("callbacks{success} = %v, want 2", v)
	}
	m = findMetric(t, reg, "crmlink_oauth_callbacks_total", map[string]string{"result": "invalid_state"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("callbacks{invalid_state} = %v, want 1", v)
	}
}

// TestRecordTokenExchange_RecordsCountAndLatency はトークン交換の件数とレイテンシが記録されることを検証する。
func TestRecordTokenExchange_RecordsCountAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenExchange("failure", 200*time.Millisecond)

	m := findMetric(t, reg, "crmlink_token_exchanges_total", map[string]string{"result": "failure"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("exchanges{failure} = %v, want 1", v)
	}
	h := findMetric(t, reg, "crmlink_token_exchange_latency_seconds", map[string]string{})
	if got := h.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

// TestRecordHandoff_CountsByOpAndResult はハンドオフ操作が操作・結果別に集計されることを検証する。
func TestRecordHandoff_CountsByOpAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHandoff("put", "success")
	c.RecordHandoff("take", "not_found")
	c.RecordHandoff("take", "not_found")

	m := findMetric(t, reg, "crmlink_handoff_operations_total", map[string]string{"op": "take", "result": "not_found"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("handoffs{take,not_found} = %v, want 2", v)
	}
}

// TestRecordEntityFetch_And_ItemsFetched は種別ごとの取得結果とアイテム数が記録されることを検証する。
func TestRecordEntityFetch_And_ItemsFetched(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEntityFetch("contact", "success", 50*time.Millisecond)
	c.RecordItemsFetched("contact", 7)
	c.RecordItemsFetched("contact", 3)
	c.RecordEntityFetch("company", "failure", 10*time.Millisecond)

	m := findMetric(t, reg, "crmlink_items_fetched_total", map[string]string{"type": "contact"})
	if v := m.GetCounter().GetValue(); v != 10 {
		t.Errorf("items_fetched{contact} = %v, want 10", v)
	}
	m = findMetric(t, reg, "crmlink_entity_fetches_total", map[string]string{"type": "company", "result": "failure"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("entity_fetches{company,failure} = %v, want 1", v)
	}
	h := findMetric(t, reg, "crmlink_entity_fetch_latency_seconds", map[string]string{"type": "contact"})
	if got := h.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("latency sample count = %d, want 1", got)
	}
}

// TestRecordPurged_AddsCount はクリーンアップ削除件数が加算されることを検証する。
func TestRecordPurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPurged(4)
	c.RecordPurged(0)

	m := findMetric(t, reg, "crmlink_handoff_purged_total", map[string]string{})
	if v := m.GetCounter().GetValue(); v != 4 {
		t.Errorf("purged = %v, want 4", v)
	}
}
