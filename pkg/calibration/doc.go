// Package calibration fits polynomial absorbance-vs-concentration models to
// calibration standards, tests which terms are statistically significant,
// and inverts an accepted linear or quadratic model to estimate the
// concentration of unknown samples.
package calibration
