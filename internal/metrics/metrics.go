package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	EmailsProcessed     prometheus.Counter
	EmailFetchFailures  prometheus.Counter
	AttachmentsDecoded  *prometheus.CounterVec
	RowsStored          prometheus.Counter
	PersistenceFailures *prometheus.CounterVec
	ProcessingTime      prometheus.Histogram
	MailboxSearches     *prometheus.CounterVec
	OTPRequests         *prometheus.CounterVec
	OTPVerifications    *prometheus.CounterVec
	OTPSwept            prometheus.Counter
	Exports             prometheus.Counter
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EmailsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_extractor_emails_processed_total",
			Help: "Total number of emails fetched and processed",
		}),
		EmailFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_extractor_email_fetch_failures_total",
			Help: "Total number of emails that could not be fetched",
		}),
		AttachmentsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_extractor_attachments_total",
			Help: "Attachments seen during ingestion by kind",
		}, []string{"kind"}),
		RowsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_extractor_rows_stored_total",
			Help: "Total number of spreadsheet rows persisted",
		}),
		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_extractor_persistence_failures_total",
			Help: "Swallowed persistence failures during ingestion by stage",
		}, []string{"stage"}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "email_extractor_processing_duration_seconds",
			Help:    "Time spent processing a batch of emails",
			Buckets: prometheus.DefBuckets,
		}),
		MailboxSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_extractor_mailbox_searches_total",
			Help: "Mailbox searches by result",
		}, []string{"result"}),
		OTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_extractor_otp_requests_total",
			Help: "OTP requests by result",
		}, []string{"result"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_extractor_otp_verifications_total",
			Help: "OTP verifications by result",
		}, []string{"result"}),
		OTPSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_extractor_otp_swept_total",
			Help: "Expired OTP challenges removed by the sweep",
		}),
		Exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_extractor_exports_total",
			Help: "Formatted workbooks exported",
		}),
	}
}
