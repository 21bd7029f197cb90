// Package acquisition runs the background producers that feed the signal
// buffer.
//
// A Worker drives one Source at a fixed tick interval. Failure handling
// depends on the variant:
//
//   - Simulated and SimulatedSensors never fail.
//   - Hardware reads one frame per tick from a Driver and decodes it with a
//     Decoder. Decode errors, out-of-range values, read timeouts and errors
//     wrapped with Transient skip the tick and keep the previous values.
//     io.EOF, os.ErrClosed and ErrDisconnected are persistent. A persistent
//     error, or MaxConsecutiveErrors transient errors in a row, stops the
//     worker; Err reports the cause. The worker never retries on its own;
//     retry belongs to whoever owns it.
//
// A panic inside a tick is recovered and treated as a persistent failure.
package acquisition
