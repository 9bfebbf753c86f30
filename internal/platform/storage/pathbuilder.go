package storage

import (
	"fmt"
	"strings"
)

// StoreImagePath builds the object key for a merchant store image,
// media/stores/<storeID>/images/<uploadID>/<fileName>. Every segment
// is caller-supplied, so each one is checked for traversal before it
// becomes part of a signed URL.
func StoreImagePath(storeID, uploadID, fileName string) (string, error) {
	storeID, err := pathSegment("store id", storeID)
	if err != nil {
		return "", err
	}
	uploadID, err = pathSegment("upload id", uploadID)
	if err != nil {
		return "", err
	}
	fileName, err = pathSegment("file name", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("media/stores/%s/images/%s/%s", storeID, uploadID, fileName), nil
}

func pathSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
