// Package list pages through the keys stored under a prefix.
package list

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/retry"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Lister handles listing of stored objects.
type Lister struct {
	transport transport.Transport
	governor  *retry.Governor
	pageSize  int32
}

// New creates a Lister. pageSize outside (0, 1000] means 1000.
func New(t transport.Transport, g *retry.Governor, pageSize int32) *Lister {
	if pageSize <= 0 || pageSize > transport.MaxListKeys {
		pageSize = transport.MaxListKeys
	}
	return &Lister{
		transport: t,
		governor:  g,
		pageSize:  pageSize,
	}
}

// List returns the page of keys under prefix that starts at token. An empty
// NextToken marks the last page.
func (l *Lister) List(ctx context.Context, prefix, token string) (*uploadtypes.ListResult, error) {
	page, err := retry.Do(ctx, l.governor, "listObjects", func(ctx context.Context) (*transport.ListPage, error) {
		return l.transport.ListObjects(ctx, prefix, token, l.pageSize)
	})
	if err != nil {
		return nil, err
	}
	return convertPage(page), nil
}

// ListAll streams every object under prefix. The channel closes after the last
// object, after an error result, or when ctx ends.
func (l *Lister) ListAll(ctx context.Context, prefix string) <-chan uploadtypes.ObjectResult {
	resultChan := make(chan uploadtypes.ObjectResult, 100)

	go func() {
		defer close(resultChan)

		token := ""
		for {
			page, err := l.List(ctx, prefix, token)
			if err != nil {
				select {
				case resultChan <- uploadtypes.ObjectResult{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			for _, obj := range page.Objects {
				select {
				case resultChan <- uploadtypes.ObjectResult{Object: obj}:
				case <-ctx.Done():
					return
				}
			}

			if page.NextToken == "" {
				return
			}
			token = page.NextToken
		}
	}()

	return resultChan
}

func convertPage(page *transport.ListPage) *uploadtypes.ListResult {
	result := &uploadtypes.ListResult{
		Keys:      make([]string, 0, len(page.Objects)),
		Objects:   make([]uploadtypes.Object, 0, len(page.Objects)),
		NextToken: page.NextToken,
	}
	for _, obj := range page.Objects {
		result.Keys = append(result.Keys, obj.Key)
		result.Objects = append(result.Objects, uploadtypes.Object{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		})
	}
	return result
}
