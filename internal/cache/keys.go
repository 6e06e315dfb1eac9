package cache

import "fmt"

func ProgressKey(jobID string) string {
	return fmt.Sprintf("ocr:progress:%s", jobID)
}

func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}
