package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Contadores de domínio expostos em /metrics.
// A falha de append de auditoria e os achados do auditor são o canal de
// alerta operacional exigido pelo contrato do ledger.
var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Transações processadas pelo ledger, por tipo e status",
	}, []string{"type", "status"})

	limitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_limit_rejections_total",
		Help: "Operações rejeitadas pelo motor de limites, por tipo de limite",
	}, []string{"kind"})

	auditAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_audit_append_failures_total",
		Help: "Falhas pós-commit ao gravar trilha de auditoria (alerta, não rollback)",
	})

	integrityFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_auditor_findings_total",
		Help: "Achados do auditor de integridade, por tipo",
	}, []string{"kind"})
)

func IncTransaction(txType string, committed bool) {
	status := "committed"
	if !committed {
		status = "rejected"
	}
	transactionsTotal.WithLabelValues(txType, status).Inc()
}

func IncLimitRejection(kind string) {
	limitRejections.WithLabelValues(kind).Inc()
}

func IncAuditAppendFailure() {
	auditAppendFailures.Inc()
}

func IncIntegrityFinding(kind string) {
	integrityFindings.WithLabelValues(kind).Inc()
}
