// Package tasks holds the demo job handlers wired into the jobs CLI:
// print_message, echo, send_email and generate_pdf.
package tasks
