package cache

import "fmt"

func KeyLineShape(dataset, lineID string) string {
	return fmt.Sprintf("shape:%s:%s", dataset, lineID)
}

func KeyDatasetPattern(dataset string) string {
	return fmt.Sprintf("shape:%s:*", dataset)
}
