// Package diskimage attaches disk images and finds the application bundle inside.
//
// Attach is the only way to obtain a Mount, and a Mount exists only while the
// image is attached. Release is safe to call any number of times and never
// fails; detach and directory removal problems become warnings. Callers pair
// them with defer:
//
//	m, err := diskimage.Attach(ctx, runner, image)
//	if err != nil {
//		return err
//	}
//	defer m.Release(ctx)
//
// Attachments of the same image by two callers at once are not serialised here.
package diskimage
