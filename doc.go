// Package s3upload stores binary assets in an S3-compatible object store over
// unreliable networks.
//
// Every upload is checked before any network call: the key against the store's
// key rules, the size against the configured limit, and the first bytes of the
// payload against its declared type. Payloads below the multipart threshold go
// out in a single PUT; larger ones are split into chunks that are uploaded in
// parallel and committed as one object, or aborted as a whole when a part fails.
//
// Store calls are retried with exponential backoff and jitter. A circuit breaker
// per endpoint and bucket stops calling an endpoint that keeps failing and lets
// a single trial through after a cool-down.
//
// Key features:
//   - Single-shot and multipart uploads with bounded memory
//   - Content sniffing with SVG, executable and script detection
//   - Cache-Control and AES256 server-side encryption on every write
//   - Presigned PUT, GET and browser POST uploads
//   - AWS (aws-sdk-go-v2) and MinIO (minio-go) backends
//   - Throttled progress callbacks, Prometheus metrics and completion events
//
// Example usage:
//
//	client, err := s3upload.New(ctx,
//	    s3upload.WithBucket("media"),
//	    s3upload.WithKeyNamespaces("originals/", "documents/"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	result, err := client.Upload(ctx, uploadtypes.UploadRequest{
//	    Key:         "originals/cat.png",
//	    Body:        file,
//	    Size:        size,
//	    ContentType: "image/png",
//	})
package s3upload
