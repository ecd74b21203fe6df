package tunnel

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const sessionCookieHeader = "x-sessioncookie"

// HandleGet opens the outbound half of an HTTP-tunneled RTSP session:
// the response body is an unbounded stream of server-to-client bytes,
// copied straight from whatever the RTSP session writes to the Conn that
// broker.Register returns for the request's cookie. onConn is invoked once the Conn is
// registered so the caller can attach an RTSP session to it.
func HandleGet(broker *Broker, onConn func(cookie string, conn *Conn)) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie := c.GetHeader(sessionCookieHeader)
		if cookie == "" {
			c.Status(http.StatusBadRequest)
			return
		}

		conn := broker.Register(cookie)
		onConn(cookie, conn)

		c.Header("Content-Type", "application/x-rtsp-tunnelled")
		c.Header("Cache-Control", "no-cache")
		c.Header("Pragma", "no-cache")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		if err := copyAndFlush(c.Writer, conn.outboundReader()); err != nil {
			slog.Debug("tunnel get stream ended", "cookie", cookie, "err", err)
		}
	}
}

// copyAndFlush streams src to dst, flushing after every chunk so RTSP
// responses and interleaved frames reach the client as soon as the
// session writes them rather than sitting buffered.
func copyAndFlush(dst http.ResponseWriter, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			if f, ok := dst.(http.Flusher); ok {
				f.Flush()
			}
		}
		if readErr != nil {
			return readErr
		}
	}
}

// HandlePost delivers the inbound half: the request body is
// base64-encoded RTSP bytes (requests, or interleaved frames), decoded
// and handed to the Conn a prior GET registered for the same cookie.
func HandlePost(broker *Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie := c.GetHeader(sessionCookieHeader)
		if cookie == "" {
			c.Status(http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}

		if err := broker.Forward(cookie, decoded); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}

		c.Header("Content-Type", "application/x-rtsp-tunnelled")
		c.Header("Cache-Control", "no-cache")
		c.Status(http.StatusOK)
	}
}
