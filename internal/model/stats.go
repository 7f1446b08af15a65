package model

// DailyCount is one bucket of the usage histogram.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD in server local time
	Count int    `json:"count"`
}

// Stats holds platform-wide usage accounting.
type Stats struct {
	TotalImages           int          `json:"totalImages"`
	Last7DaysCount        int          `json:"last7DaysCount"`
	EstimatedStorageBytes int64        `json:"estimatedStorageBytes"`
	EstimatedStorageMB    int64        `json:"estimatedStorageMB"`
	EstimatedStorageGB    string       `json:"estimatedStorageGB"`
	ChartData             []DailyCount `json:"chartData"`
}
