package observability

const (
	MUsecaseRequests        MetricKey = "usecase_requests_total"
	MUsecaseDuration        MetricKey = "usecase_duration_seconds"
	MLifecycleEvents        MetricKey = "lifecycle_events_total"
	MStockConflicts         MetricKey = "stock_conflicts_total"
	MGatewayRequests        MetricKey = "gateway_requests_total"
	MGatewayRequestDuration MetricKey = "gateway_request_duration_seconds"
	MPaymentsExpired        MetricKey = "payments_expired_total"
)
