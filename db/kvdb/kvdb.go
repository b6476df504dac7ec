package kvdb

const (
	// RunsBucket holds one JSON encoded RunRecord per run ID.
	RunsBucket = "runs"
	// CatalogsBucket maps a catalog root to the ID of its most recent run.
	CatalogsBucket = "catalogs"
)

var buckets = []string{RunsBucket, CatalogsBucket}

type DB interface {
	Set(bucket string, key string, value string) error
	Get(bucket string, key string) (string, error)
	Delete(bucket string, key string) error
	GetAllKeys(bucket string) ([]string, error)
	Close() error
}
